package main

import (
	"fmt"
	"os"
	"os/signal"

	"dispute-rollup/common"
	"dispute-rollup/config"
	"dispute-rollup/log"
	"dispute-rollup/node"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"
)

const (
	flagCfg  = "cfg"
	flagMode = "mode"
	modeSeq  = "seq"
	modeObs  = "obs"
)

// Config is the configuration of the node execution
type Config struct {
	mode node.Mode
	node *config.Node
}

func parseCli(c *cli.Context) (*Config, error) {
	cfg, err := getConfig(c)
	if err != nil {
		if err := cli.ShowAppHelp(c); err != nil {
			panic(err)
		}
		return nil, common.Wrap(err)
	}
	return cfg, nil
}

func getConfig(c *cli.Context) (*Config, error) {
	var cfg Config
	mode := c.String(flagMode)
	nodeCfgPath := c.String(flagCfg)
	var err error
	switch mode {
	case modeSeq:
		cfg.mode = node.ModeSequencer
		cfg.node, err = config.LoadNode(nodeCfgPath, true)
		if err != nil {
			return nil, common.Wrap(err)
		}
	case modeObs:
		cfg.mode = node.ModeObserver
		cfg.node, err = config.LoadNode(nodeCfgPath, false)
		if err != nil {
			return nil, common.Wrap(err)
		}
	default:
		return nil, common.Wrap(fmt.Errorf("invalid mode \"%v\"", mode))
	}

	return &cfg, nil
}

func waitSigInt() {
	stopCh := make(chan interface{})

	// catch ^C to send the stop signal
	ossig := make(chan os.Signal, 1)
	signal.Notify(ossig, os.Interrupt)
	const forceStopCount = 3
	go func() {
		n := 0
		for sig := range ossig {
			if sig == os.Interrupt {
				log.Info("Received Interrupt Signal")
				stopCh <- nil
				n++
				if n == forceStopCount {
					log.Fatalf("Received %v Interrupt Signals", forceStopCount)
				}
			}
		}
	}()
	<-stopCh
}

func cmdRun(c *cli.Context) error {
	// A .env file next to the binary can carry the DRNODE_* overrides
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return common.Wrap(fmt.Errorf("error loading .env: %w", err))
	}
	cfg, err := parseCli(c)
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	log.Init(cfg.node.Log.Level, cfg.node.Log.Out)
	innerNode, err := node.NewNode(cfg.mode, cfg.node, c.App.Version)
	if err != nil {
		return common.Wrap(fmt.Errorf("error starting node: %w", err))
	}
	innerNode.Start()
	waitSigInt()
	innerNode.Stop()

	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "dispute-rollup-node"
	app.Version = "v0.1.0"

	flags := []cli.Flag{
		&cli.StringFlag{
			Name: flagMode,
			Usage: fmt.Sprintf("Set node `MODE` (can be \"%v\" or \"%v\")",
				modeSeq, modeObs),
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagCfg,
			Usage:    "Node configuration `FILE`",
			Required: false,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the dispute-rollup-node in the indicated mode",
			Action:  cmdRun,
			Flags:   flags,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("\nError: %v\n", common.Wrap(err))
		os.Exit(1)
	}
}
