// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"github.com/hashicorp/cli"

	"github.com/hashicorp/guildhall/version"
)

type VersionCommand struct {
	Version *version.VersionInfo
	UI      cli.Ui
}

func (c *VersionCommand) Help() string {
	return "Usage: guildhall version\n\n  Prints the guildhall version."
}

func (c *VersionCommand) Synopsis() string {
	return "Prints the guildhall version"
}

func (c *VersionCommand) Run(_ []string) int {
	c.UI.Output(c.Version.FullVersionNumber(true))
	return 0
}
