package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/localdb"
	"github.com/smallrender/core/pkg/log"
	"github.com/smallrender/core/pkg/submission"
	"github.com/smallrender/core/pkg/udpwake"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a render job from a JSON submission file",
		Long: `Reads a submission file (template_id, frame range, flag overrides)
and hands it to the farm. If no node daemon is currently running on this
host, the submission is written straight into the farm root; otherwise it
is handed off to the running daemon via the local rendezvous file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			templateID, _ := cmd.Flags().GetString("template")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return runSubmit(file, templateID)
		},
	}
	cmd.Flags().String("file", "", "path to a submission JSON file")
	cmd.Flags().String("template", "", "template_id, overriding the file's own value if set")
	return cmd
}

func runSubmit(file, templateOverride string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read submission file: %w", err)
	}
	var sub submission.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("parse submission file: %w", err)
	}
	if templateOverride != "" {
		sub.TemplateID = templateOverride
	}
	if sub.TemplateID == "" {
		return fmt.Errorf("submission has no template_id (set --template or put template_id in the file)")
	}
	if sub.SubmittedBy == "" {
		hostname, _ := os.Hostname()
		sub.SubmittedBy = "cli@" + hostname
	}

	appDir, err := config.LocalAppDataDir()
	if err != nil {
		return err
	}

	logger := log.WithComponent("cli")

	db, err := localdb.Open(appDir)
	if err != nil {
		// The local db's exclusive file lock is already held by a running
		// daemon on this host — hand off via the rendezvous file instead
		// of writing into the farm root ourselves.
		return handOffSubmit(appDir, sub, logger)
	}
	defer db.Close()

	cfg, err := config.Load(config.ConfigFile(appDir))
	if err != nil {
		return err
	}
	if err := requireSyncRoot(cfg); err != nil {
		return err
	}

	name := fmt.Sprintf("%d_cli.json", time.Now().UnixMilli())
	dest := filepath.Join(layout.SubmissionsDir(cfg.SyncRoot), name)
	if err := atomicstore.WriteJSON(dest, sub); err != nil {
		return fmt.Errorf("write submission: %w", err)
	}

	logger.Info().Str("template_id", sub.TemplateID).Str("file", name).
		Msg("no daemon running on this host, submission written directly to farm root")
	return nil
}

func handOffSubmit(appDir string, sub submission.Submission, logger zerolog.Logger) error {
	path := config.SubmitRequestFile(appDir)
	if err := atomicstore.WriteJSON(path, sub); err != nil {
		return fmt.Errorf("write submit request: %w", err)
	}

	cfg, err := config.Load(config.ConfigFile(appDir))
	if err == nil && cfg.UDPEnabled {
		if sender, serr := udpwake.NewSender("cli", cfg.UDPGroup, cfg.UDPPort); serr == nil {
			sender.NotifySubmission()
			_ = sender.Close()
		}
	}

	logger.Info().Str("template_id", sub.TemplateID).
		Msg("a node daemon is already running on this host, handed submission off via rendezvous file")
	return nil
}
