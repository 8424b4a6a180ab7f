package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const showoptionsOutput = `List of Server Options:
* DefaultPort=16261
* MaxPlayers=32
* Mods=\modA;\modB
* Open=true
* PublicName=My Zomboid Server
* ServerWelcomeMessage=Welcome! Type = in chat
* WorkshopItems=111;222
`

func TestParseServerOptions(t *testing.T) {
	opts := ParseServerOptions(showoptionsOutput)

	assert.Equal(t, `\modA;\modB`, opts.Mods())
	assert.Equal(t, "111;222", opts.WorkshopItems())

	v, ok := opts.Get("MaxPlayers")
	assert.True(t, ok)
	assert.Equal(t, "32", v)

	_, ok = opts.Get("Nonexistent")
	assert.False(t, ok)

	// Banner line carries no '=' and is skipped.
	assert.NotContains(t, opts.Order, "List of Server Options:")

	// Values may contain '='; only the first one splits.
	v, _ = opts.Get("ServerWelcomeMessage")
	assert.Equal(t, "Welcome! Type = in chat", v)
}

func TestParseServerOptions_UnprefixedLines(t *testing.T) {
	opts := ParseServerOptions("Mods=\"modA\"\nWorkshopItems=\"42\"")
	assert.Equal(t, "modA", opts.Mods())
	assert.Equal(t, "42", opts.WorkshopItems())
}

func TestParseServerOptions_PreservesOrder(t *testing.T) {
	opts := ParseServerOptions("* B=2\n* A=1\n* C=3")
	assert.Equal(t, []string{"B", "A", "C"}, opts.Order)
}

func TestSplitPositional(t *testing.T) {
	// Duplicates survive so index pairing stays aligned.
	got := splitPositional(`\modA;\modA;modB`)
	assert.Equal(t, []string{"modA", "modA", "modB"}, got)

	assert.Nil(t, splitPositional(""))
	assert.Nil(t, splitPositional(`""`))
}
