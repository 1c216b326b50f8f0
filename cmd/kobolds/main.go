package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/config"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/version"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var CLI struct {
	Version bool `help:"Print version information and exit." short:"v"`
	Debug   bool `help:"Whether to enable debug logging."`

	Host struct {
		Direct  bool     `help:"Listen directly on the configured port instead of registering a lobby."`
		Code    string   `help:"Join code to register the lobby under. Empty generates one."`
		Name    string   `help:"Display name for this session."`
		Configs []string `arg:"" optional:"" name:"configs" help:"Configuration files for the peer." type:"file"`
	} `cmd:"" help:"Host a session other players can join."`

	Join struct {
		Target  string   `arg:"" name:"target" help:"A lobby join code or a host:port address."`
		Name    string   `help:"Display name for this session."`
		Configs []string `optional:"" name:"configs" help:"Configuration files for the peer." type:"file"`
	} `cmd:"" help:"Join a hosted session."`

	Config struct {
	} `cmd:"" help:"Write the default configuration to standard output."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(consoleWriter)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx := kong.Parse(&CLI,
		kong.Name("kobolds"),
		kong.Description("a host-and-join session peer"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("debug logging enabled")
	}

	if CLI.Version {
		fmt.Printf(
			"kobolds %s (commit %s)\n",
			version.Version,
			version.GitCommit,
		)
		fmt.Printf(
			"built %s\n",
			version.BuildTime,
		)
		os.Exit(0)
	}

	switch ctx.Command() {
	case "host":
		fallthrough
	case "host <configs>":
		err := hostCommand(CLI.Host.Configs)
		if err != nil {
			writeError(err)
		}
	case "join <target>":
		err := joinCommand(CLI.Join.Configs, CLI.Join.Target)
		if err != nil {
			writeError(err)
		}
	case "config":
		os.Stdout.Write(config.DEFAULT)
	}
}
