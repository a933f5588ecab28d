package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/folio/internal/app"
	"github.com/ent0n29/folio/internal/chat"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/profile"
	"github.com/ent0n29/folio/internal/token"
	"github.com/ent0n29/folio/internal/voice"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask the persona a question and print the text reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		instruction, err := app.LoadInstruction(ctx, cfg)
		if err != nil {
			return err
		}
		client, err := app.NewGeminiClient(ctx, cfg)
		if err != nil {
			return err
		}
		svc := chat.NewService(client, instruction, observability.Logger(), nil)
		reply, err := svc.Reply(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a realtime voice credential and print it as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		instruction, err := app.LoadInstruction(ctx, cfg)
		if err != nil {
			return err
		}
		client, err := app.NewGeminiClient(ctx, cfg)
		if err != nil {
			return err
		}
		grant, err := token.NewIssuer(client, instruction, observability.Logger(), nil).Issue(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(grant)
	},
}

// --- call ---

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Hold a voice call using WAV files as microphone and speaker",
	Long: `Hold a voice call using WAV files as microphone and speaker.

Examples:
  folio call --in question.wav --out reply.wav --duration 20s
  folio call --mock --out greeting.wav --duration 3s`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		in, _ := cmd.Flags().GetString("in")
		out, _ := cmd.Flags().GetString("out")
		duration, _ := cmd.Flags().GetDuration("duration")
		mock, _ := cmd.Flags().GetBool("mock")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		instruction, err := app.LoadInstruction(ctx, cfg)
		if err != nil {
			return err
		}

		var (
			creds  voice.CredentialSource
			dialer voice.Dialer
		)
		if mock {
			creds = voice.MockCredentials{Instruction: instruction.String()}
			dialer = voice.MockDialer{}
		} else {
			client, err := app.NewGeminiClient(ctx, cfg)
			if err != nil {
				return err
			}
			creds = token.NewIssuer(client, instruction, observability.Logger(), nil)
			dialer = voice.GeminiDialer{Client: client}
		}

		speaker := voice.NewWAVSpeaker(out)
		bridge := voice.NewBridge(creds, dialer, voice.WAVMicrophone{Path: in}, speaker, voice.Config{
			GuardInterval:   cfg.VoiceGuardInterval,
			ErrorResetDelay: cfg.VoiceErrorResetDelay,
			Observer:        consoleObserver{},
			Logger:          observability.Component("call"),
		})
		return runCall(ctx, bridge, duration)
	},
}

func init() {
	callCmd.Flags().String("in", "", "WAV file replayed as microphone input (silence when empty)")
	callCmd.Flags().String("out", "call.wav", "WAV file receiving the assistant audio")
	callCmd.Flags().Duration("duration", 30*time.Second, "hang up after this long")
	callCmd.Flags().Bool("mock", false, "use the offline mock session instead of the provider")
}

// runCall starts bridge and ends it after d, on ctx cancellation, or when
// the bridge tears itself down.
func runCall(ctx context.Context, bridge *voice.Bridge, d time.Duration) error {
	if err := bridge.Start(ctx); err != nil {
		// The bridge schedules its own teardown after a failure.
		bridge.End()
		<-bridge.Done()
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-bridge.Done():
	}
	bridge.End()
	<-bridge.Done()
	return nil
}

type consoleObserver struct{}

func (consoleObserver) StateChanged(conn voice.ConnState, v voice.VoiceState) {
	printStatus("state", "%s / %s", conn, v)
}

func (consoleObserver) MicLevel(float64) {}

func (consoleObserver) Advisory(text string) {
	printStatus("info", "%s", text)
}

func (consoleObserver) AssistantText(text string) {
	printStatus("assistant", "%s", text)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the persona profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the profile named by PROFILE_SOURCE as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := profile.Load(cmd.Context(), cfg.ProfileSource)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), doc.JSON())
		return nil
	},
}

var profilePromptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the persona instruction rendered from the profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		instruction, err := app.LoadInstruction(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), instruction.String())
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a JSON or YAML profile file in a database",
	Long: `Store a JSON or YAML profile file in a database.

Examples:
  folio profile import profile.yaml --to sqlite:///var/lib/folio.db
  folio profile import profile.json --to "postgres://localhost/folio?profile=jane"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		if strings.TrimSpace(to) == "" {
			return fmt.Errorf("--to is required")
		}
		ctx := cmd.Context()
		doc, err := profile.FileLoader{Path: args[0]}.Load(ctx)
		if err != nil {
			return err
		}
		store, slug, err := profile.OpenStore(ctx, to)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Put(ctx, slug, doc); err != nil {
			return err
		}
		printSuccess("Stored profile %q (%s)", slug, doc.Name())
		return nil
	},
}

func init() {
	profileImportCmd.Flags().String("to", "", "destination database URL (postgres:// or sqlite://)")
	profileCmd.AddCommand(profileShowCmd, profilePromptCmd, profileImportCmd)
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%-10s %s\n", label+":", fmt.Sprintf(format, args...))
}
