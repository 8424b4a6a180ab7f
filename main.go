package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/zedctl/cmd"
	"grimm.is/zedctl/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.ConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.ConfigPath(), "Configuration file (short)")
		startFlags.Parse(os.Args[2:])

		if err := cmd.RunStart(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		checkFlags.Parse(os.Args[2:])

		configFile := brand.ConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "hash-password":
		if err := cmd.RunHashPassword(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version", "--version", "-v":
		cmd.PrintVersion()

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage: %s <command> [options]

Commands:
  start          Run the daemon (foreground)
    -c, -config  Configuration file (default %s)
  check [file]   Validate a configuration file
  hash-password  Generate a bcrypt hash for the admin config block
  version        Print version information
  help           Show this help
`, brand.Name, brand.Description, brand.BinaryName, brand.ConfigPath())
}
