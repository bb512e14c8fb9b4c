package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/vimrgb-core/internal/editor"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/mqtt"
)

func newModeCmd(flags *rootFlags) *cobra.Command {
	var previous string

	cmd := &cobra.Command{
		Use:   "mode <name>",
		Short: "Report an editor mode change to the running daemon",
		Long: `Publish a mode change on the editor topic. Editor hooks call this on
every mode switch, for example from a ModeChanged autocommand.`,
		Example: `  vimrgb mode insert
  vimrgb mode i --previous n`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			payload, err := modePayload(args[0], previous)
			if err != nil {
				return err
			}
			return publishOnce(cfg, mqtt.Topics{}.EditorMode(), payload)
		},
	}

	cmd.Flags().StringVar(&previous, "previous", "", "Mode the editor is leaving")
	return cmd
}

func newReloadCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its theme and devices",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			return publishOnce(cfg, mqtt.Topics{}.EditorReload(), []byte("{}"))
		},
	}
}

// modePayload encodes a mode event, rejecting anything the daemon would
// discard.
func modePayload(mode, previous string) ([]byte, error) {
	payload, err := json.Marshal(editor.ModeEvent{
		Mode:     strings.TrimSpace(mode),
		Previous: strings.TrimSpace(previous),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding mode event: %w", err)
	}
	if _, err := editor.ParseModeEvent(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// publishOnce publishes one message from a throwaway client. The unique
// client id keeps the daemon's own connection from being displaced.
func publishOnce(cfg *config.Config, topic string, payload []byte) error {
	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID = fmt.Sprintf("%s-cli-%s", mqttCfg.Broker.ClientID, uuid.NewString()[:8])

	client, err := mqtt.ConnectEphemeral(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // best-effort disconnect

	if err := client.Publish(topic, payload, client.QoS(), false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
