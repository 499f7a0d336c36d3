// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package command implements the guildhall CLI.
package command

import (
	"os"

	"github.com/hashicorp/cli"

	"github.com/hashicorp/guildhall/version"
)

// Commands returns the CLI command factories.
func Commands() map[string]cli.CommandFactory {
	meta := Meta{UI: &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}}

	return map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &AgentCommand{Meta: meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Version: version.GetVersion(),
				UI:      meta.UI,
			}, nil
		},
	}
}

// Meta carries the options common to every command.
type Meta struct {
	UI cli.Ui
}
