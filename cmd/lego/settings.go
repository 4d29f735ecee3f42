package main

import (
	"context"
	"fmt"
	"strings"

	legoaws "github.com/gurre/lego/aws"
	"github.com/integrii/flaggy"
)

func settingsCommands() (*flaggy.Subcommand, []command) {
	settings := flaggy.NewSubcommand("settings")
	settings.Description = "Show or change the global settings"

	show := flaggy.NewSubcommand("show")
	show.Description = "Print every setting and its allowed values"
	settings.AttachSubcommand(show, 1)

	var name, value string
	set := flaggy.NewSubcommand("set")
	set.Description = "Change one setting by name or alias"
	set.AddPositionalValue(&name, "name", 1, true, "Setting name or alias, e.g. env")
	set.AddPositionalValue(&value, "value", 2, true, "New value")
	settings.AttachSubcommand(set, 1)

	return settings, []command{
		{sc: show, run: func(ctx context.Context, a *app) error {
			fmt.Fprintf(a.out, "Settings file: %s\n", a.settingsPath)
			for _, s := range a.settings.All() {
				fmt.Fprintf(a.out, "%s = %s (aliases: %s)\n", s.Name, s.Value, strings.Join(s.Aliases, ", "))
			}
			return nil
		}},
		{sc: set, run: func(ctx context.Context, a *app) error {
			if err := a.settings.Set(name, value); err != nil {
				return err
			}
			if err := a.settings.Save(a.settingsPath); err != nil {
				return err
			}
			s, _ := a.settings.Lookup(name)
			a.log.Infof("%s set to %s", s.Name, s.Value)
			return nil
		}},
	}
}

func sessionCommands() (*flaggy.Subcommand, []command) {
	session := flaggy.NewSubcommand("session")
	session.Description = "Check the current AWS session and print the caller identity"

	return session, []command{
		{sc: session, run: func(ctx context.Context, a *app) error {
			clients, err := a.aws(ctx)
			if err != nil {
				return err
			}
			id, err := legoaws.CheckSession(ctx, clients.STS, clients.IAM)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Account: %s\n", id.Account)
			if id.Alias != "" {
				fmt.Fprintf(a.out, "Alias:   %s\n", id.Alias)
			}
			fmt.Fprintf(a.out, "ARN:     %s\n", id.ARN)
			fmt.Fprintf(a.out, "UserID:  %s\n", id.UserID)
			return nil
		}},
	}
}
