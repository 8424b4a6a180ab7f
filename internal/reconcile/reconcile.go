// Package reconcile keeps a server's desired mod configuration and its
// actual in-game configuration in agreement. Sync pulls the game's view
// into the local entry set; Apply pushes the local entries back to the
// game via changeoption commands.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grimm.is/zedctl/internal/clock"
	"grimm.is/zedctl/internal/events"
	"grimm.is/zedctl/internal/logging"
	"grimm.is/zedctl/internal/modlist"
	"grimm.is/zedctl/internal/workshop"
)

// Executor runs one remote command and returns its full output.
// *rcon.Session satisfies this.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// DefaultPolitenessDelay spaces out workshop page fetches during a sync
// so a large mod list does not hammer Steam.
const DefaultPolitenessDelay = 500 * time.Millisecond

const defaultCommandTimeout = 10 * time.Second

// Options tunes a Sync run.
type Options struct {
	// Resolver looks up mod metadata for workshop ids the local set does
	// not know yet. Nil skips resolution; unknown ids are recorded with
	// only the mod ids the server reported.
	Resolver workshop.Resolver

	// DisableMissing clears the enabled set of local entries that the
	// server no longer reports. Metadata is kept either way.
	DisableMissing bool

	// PolitenessDelay is the pause before each resolver call.
	// Zero means DefaultPolitenessDelay; negative disables the delay.
	PolitenessDelay time.Duration

	// CommandTimeout bounds each remote command. Zero means 10s.
	CommandTimeout time.Duration

	// Clock supplies timers for the politeness delay. Nil means real time.
	Clock clock.Clock

	// Hub receives sync progress events when set.
	Hub      *events.Hub
	ServerID string
}

// Result summarizes a Sync run. Errors holds per-item failures; the run
// keeps going past them.
type Result struct {
	Added               int      `json:"added"`
	Updated             int      `json:"updated"`
	Disabled            int      `json:"disabled"`
	Errors              []string `json:"errors,omitempty"`
	ServerModCount      int      `json:"server_mods_count"`
	ServerWorkshopCount int      `json:"server_workshops_count"`
}

// ApplyResult reports what an Apply run sent and how far it got. The
// two changeoption commands are not transactional: ModsApplied may be
// true while WorkshopApplied is false.
type ApplyResult struct {
	ModsCommand     string `json:"mods_command"`
	WorkshopCommand string `json:"workshop_command"`
	ModsOutput      string `json:"mods_result,omitempty"`
	WorkshopOutput  string `json:"workshop_result,omitempty"`
	ModsApplied     bool   `json:"mods_applied"`
	WorkshopApplied bool   `json:"workshop_applied"`
	ModCount        int    `json:"mods_count"`
	WorkshopCount   int    `json:"workshops_count"`
}

var log = logging.WithComponent("reconcile")

// Sync reads the server's current mod configuration and folds it into
// local. Entries are mutated in place; the returned slice includes any
// entries created for workshop ids the local set did not have.
//
// The game reports two parallel lists, WorkshopItems and Mods, and the
// only association between them is position. Packages carrying several
// mods make that pairing lossy; the resolver fills in the missing mod
// ids where it can.
func Sync(ctx context.Context, exec Executor, local []*modlist.Entry, opts Options) ([]*modlist.Entry, *Result, error) {
	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	cmdTimeout := opts.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = defaultCommandTimeout
	}
	delay := opts.PolitenessDelay
	if delay == 0 {
		delay = DefaultPolitenessDelay
	}

	out, err := exec.Execute(ctx, "showoptions", cmdTimeout)
	if err != nil {
		return local, nil, fmt.Errorf("reconcile: showoptions: %w", err)
	}

	options := ParseServerOptions(out)
	serverMods := splitPositional(options.Mods())
	serverWorkshops := splitPositional(options.WorkshopItems())

	res := &Result{
		ServerModCount:      len(serverMods),
		ServerWorkshopCount: len(serverWorkshops),
	}

	// Positional pairing: workshop[i] gets mods[i]. Trailing workshop
	// ids beyond the mods list end up with no active mod ids.
	activeByWorkshop := make(map[string][]string, len(serverWorkshops))
	var reportOrder []string
	for i, wid := range serverWorkshops {
		if _, seen := activeByWorkshop[wid]; !seen {
			reportOrder = append(reportOrder, wid)
			activeByWorkshop[wid] = nil
		}
		if i < len(serverMods) {
			activeByWorkshop[wid] = append(activeByWorkshop[wid], serverMods[i])
		}
	}

	emitProgress := func(phase, wid string, processed int, errMsg string) {
		if opts.Hub != nil {
			opts.Hub.Publish(events.Event{
				Type:     events.EventSyncProgress,
				ServerID: opts.ServerID,
				Source:   "reconcile",
				Data: events.SyncProgressData{
					Phase:     phase,
					Workshop:  wid,
					Processed: processed,
					Total:     len(reportOrder),
					Error:     errMsg,
				},
			})
		}
	}

	for n, wid := range reportOrder {
		active := activeByWorkshop[wid]

		if entry := modlist.FindEntry(local, wid); entry != nil {
			entry.AddModIDs(active...)
			entry.SetEnabled(active)
			res.Updated++
			emitProgress("merge", wid, n+1, "")
			continue
		}

		entry := &modlist.Entry{WorkshopID: wid, Name: "Workshop " + wid}
		entry.AddModIDs(active...)

		var itemErr string
		if opts.Resolver != nil {
			if err := politePause(ctx, clk, delay); err != nil {
				return local, res, err
			}
			mod, rerr := opts.Resolver.Resolve(ctx, wid)
			switch {
			case rerr == nil:
				entry.AddModIDs(mod.ModIDs...)
				if mod.Name != "" {
					entry.Name = mod.Name
				}
				if len(active) == 0 {
					// Nothing paired to this package; enable every
					// resolved mod id rather than none.
					active = mod.ModIDs
				}
				if opts.Hub != nil {
					opts.Hub.Publish(events.Event{
						Type:     events.EventModResolved,
						ServerID: opts.ServerID,
						Source:   "reconcile",
						Data: events.ModResolvedData{
							WorkshopID: wid,
							Name:       mod.Name,
							ModIDs:     mod.ModIDs,
						},
					})
				}
			case ctx.Err() != nil:
				return local, res, ctx.Err()
			default:
				itemErr = fmt.Sprintf("workshop %s: %v", wid, rerr)
				res.Errors = append(res.Errors, itemErr)
				log.Warn("resolver failed, keeping reported ids", "workshop", wid, "error", rerr)
			}
		}

		entry.SetEnabled(active)
		local = append(local, entry)
		res.Added++
		emitProgress("resolve", wid, n+1, itemErr)
	}

	if opts.DisableMissing {
		for _, entry := range local {
			if _, onServer := activeByWorkshop[entry.WorkshopID]; !onServer && entry.Enabled() {
				entry.SetEnabled(nil)
				res.Disabled++
			}
		}
	}

	if opts.Hub != nil {
		opts.Hub.Publish(events.Event{
			Type:     events.EventSyncComplete,
			ServerID: opts.ServerID,
			Source:   "reconcile",
			Data: events.SyncProgressData{
				Phase:     "complete",
				Processed: len(reportOrder),
				Total:     len(reportOrder),
			},
		})
	}

	return local, res, nil
}

// Apply pushes the enabled subset of local to the server. The Mods
// option is written first, matching the order players see breakage in
// if the second command fails; a partial result is returned with the
// error in that case.
func Apply(ctx context.Context, exec Executor, local []*modlist.Entry, opts Options) (*ApplyResult, error) {
	cmdTimeout := opts.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = defaultCommandTimeout
	}

	modsValue, workshopValue := modlist.CommandValues(local)

	res := &ApplyResult{
		ModsCommand:     fmt.Sprintf(`changeoption Mods "%s"`, modsValue),
		WorkshopCommand: fmt.Sprintf(`changeoption WorkshopItems "%s"`, workshopValue),
	}
	for _, e := range local {
		if e.Enabled() {
			res.ModCount += len(e.EnabledModIDs)
			res.WorkshopCount++
		}
	}

	out, err := exec.Execute(ctx, res.ModsCommand, cmdTimeout)
	if err != nil {
		return res, fmt.Errorf("reconcile: apply mods: %w", err)
	}
	res.ModsOutput = out
	res.ModsApplied = true

	out, err = exec.Execute(ctx, res.WorkshopCommand, cmdTimeout)
	if err != nil {
		return res, fmt.Errorf("reconcile: apply workshop items: %w", err)
	}
	res.WorkshopOutput = out
	res.WorkshopApplied = true

	log.Info("applied mod configuration", "mods", res.ModCount, "workshops", res.WorkshopCount)
	return res, nil
}

// splitPositional splits an option value preserving order and duplicates
// so index pairing with the sibling list stays aligned.
func splitPositional(raw string) []string {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ";") {
		id := strings.TrimPrefix(strings.TrimSpace(f), `\`)
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func politePause(ctx context.Context, clk clock.Clock, delay time.Duration) error {
	if delay < 0 {
		return nil
	}
	t := clk.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
