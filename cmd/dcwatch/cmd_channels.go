package main

import (
	"fmt"

	"dcwatch/internal/config"

	"github.com/spf13/cobra"
)

// channelsCmd edits the watched channel list
var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List or edit the watched channels",
	Long: `Edits discord.channels in the config file. A running 'dcwatch run' picks
the change up through its config watcher.`,
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched channels",
	Args:  cobra.NoArgs,
	RunE:  channelsList,
}

var channelsAddCmd = &cobra.Command{
	Use:   "add <channel-link>...",
	Short: "Watch channels",
	Args:  cobra.MinimumNArgs(1),
	RunE:  channelsAdd,
}

var channelsRemoveCmd = &cobra.Command{
	Use:   "remove <channel-link>...",
	Short: "Stop watching channels",
	Args:  cobra.MinimumNArgs(1),
	RunE:  channelsRemove,
}

func channelsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Discord.Channels) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No channels configured")
		return nil
	}
	for _, link := range cfg.Discord.Channels {
		fmt.Fprintln(cmd.OutOrStdout(), link)
	}
	return nil
}

func channelsAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	changed := false
	for _, link := range args {
		added, err := cfg.AddChannel(link)
		if err != nil {
			return err
		}
		if added {
			changed = true
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", link)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Already watching %s\n", link)
		}
	}
	if !changed {
		return nil
	}
	return cfg.Save(configPath)
}

func channelsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	changed := false
	for _, link := range args {
		if cfg.RemoveChannel(link) {
			changed = true
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", link)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Not watching %s\n", link)
		}
	}
	if !changed {
		return nil
	}
	return cfg.Save(configPath)
}
