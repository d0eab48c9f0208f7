// Package main runs the diffbot hardware bridge on a fixed control period,
// standing in for a real motion-control scheduler. Encoder ticks come from
// fake sources since no counting hardware is wired up yet; the daemon
// connection and pin configuration are real.
package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/ocebotics/diffdrive/diffbot"
	"github.com/ocebotics/diffdrive/wheel/fake"
)

var logger = golog.NewDevelopmentLogger("diffbot_server")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string        `flag:"0,required,usage=drive hardware config file"`
	Period     time.Duration `flag:"period,usage=control cycle period"`
	TickSpeed  float64       `flag:"tickspeed,usage=fake encoder speed in ticks/sec"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Period == 0 {
		argsParsed.Period = 50 * time.Millisecond
	}

	cfg, err := diffbot.ReadConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}

	leftTicks, rightTicks := fake.New(), fake.New()
	leftTicks.SetSpeed(argsParsed.TickSpeed)
	rightTicks.SetSpeed(argsParsed.TickSpeed)
	leftTicks.Start(ctx)
	rightTicks.Start(ctx)
	defer leftTicks.Close()
	defer rightTicks.Close()

	db := diffbot.New(leftTicks, rightTicks, logger)
	if err := db.Initialize(ctx, cfg); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, db.Shutdown(context.Background()))
	}()

	if err := db.Configure(ctx); err != nil {
		return err
	}
	if err := db.Activate(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, db.Deactivate(context.Background()))
	}()

	for _, si := range db.StateInterfaces() {
		logger.Infow("exporting state interface", "wheel", si.Wheel, "interface", si.Name)
	}
	for _, ci := range db.CommandInterfaces() {
		logger.Infow("exporting command interface", "wheel", ci.Wheel, "interface", ci.Name)
	}

	return runCycle(ctx, db, cfg, argsParsed.Period, logger)
}

// runCycle drives read then write once per period until the context ends.
func runCycle(ctx context.Context, db *diffbot.DiffBot, cfg *diffbot.Config, period time.Duration, logger golog.Logger) error {
	clk := clock.New()
	ticker := clk.Ticker(period)
	defer ticker.Stop()

	last := clk.Now()
	for {
		if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
			return nil
		}
		now := clk.Now()
		elapsed := now.Sub(last)
		last = now

		if err := db.Read(ctx, elapsed); err != nil {
			return err
		}
		if err := db.Write(ctx); err != nil {
			return err
		}

		for _, name := range []string{cfg.LeftWheelName, cfg.RightWheelName} {
			pos, vel, err := db.WheelState(name)
			if err != nil {
				return err
			}
			logger.Debugw("wheel state", "wheel", name, "position_rad", pos, "velocity_rad_s", vel)
		}
	}
}
