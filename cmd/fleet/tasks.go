package main

import (
	"fmt"

	"github.com/sorrel-systems/fleet/internal/dispatch"
	"github.com/sorrel-systems/fleet/internal/storage"
	"github.com/sorrel-systems/fleet/internal/threshold"
)

// registerBuiltinTasks installs the demo task bodies shipped with the binary.
// Real deployments register their own bodies against the same registry.
func registerBuiltinTasks(reg *dispatch.MemRegistry) {
	reg.Register("noop", noopTask)
	reg.Register("probe", probeTask)
}

// noopTask does nothing. Useful for smoke-testing session wiring and pacing.
func noopTask(c *dispatch.Context) (any, error) {
	return "noop ok", nil
}

// probeTask exercises the full coordination path for one target: safety
// check, claim, ledger start/end. Target comes from --param target=...,
// action from --param action=... (default "like").
func probeTask(c *dispatch.Context) (any, error) {
	target := c.Params["target"]
	if target == "" {
		return nil, fmt.Errorf("probe needs --param target=<key>")
	}
	action := c.Params["action"]
	if action == "" {
		action = "like"
	}

	safety, err := c.CheckSafety(action, "daily")
	if err != nil {
		return nil, err
	}
	if safety.Level == threshold.LevelDanger || safety.Level == threshold.LevelCritical {
		return dispatch.TaskResult{
			Success: false,
			Message: fmt.Sprintf("%s budget exhausted (%s, %d used today)", action, safety.Level, safety.Count),
		}, nil
	}

	out, err := c.Claim(target, action)
	if err != nil {
		return nil, err
	}
	if !out.Granted {
		return dispatch.TaskResult{
			Success: false,
			Message: fmt.Sprintf("target %s already owned by %s", target, out.Owner),
		}, nil
	}

	if err := c.RecordStart("probe", action, target); err != nil {
		return nil, err
	}
	if err := c.RecordEnd(storage.ResultSuccess, ""); err != nil {
		return nil, err
	}

	level, err := c.RiskLevel()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"target": target,
		"action": action,
		"safety": safety.Level,
		"risk":   level,
	}, nil
}
