package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldops/internal/app"
	"fieldops/internal/config"
	"fieldops/internal/db"
	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/registry"
	"fieldops/internal/server"
	"fieldops/internal/session"
	"fieldops/internal/store"
	"fieldops/internal/template"
)

var rootCmd = &cobra.Command{
	Use:   "fo",
	Short: "Fieldops CLI",
	Long: `Fieldops runs checklist-driven field activities for vacation homes.
Core concepts:
- Workspace: your .fieldops directory with the local database; config lives in fieldops.yml next to it.
- Templates: built-in checklists per activity type (provisioning, meet-greet, turnover, deprovisioning), optionally phased arrive -> during -> depart and grouped by room. Properties can carry overrides.
- Activity: one template being executed against a home. Only one activity is active on a device at a time; starting a second one forces a save-switch, discard-switch, or cancel.
- Draft: every change autosaves locally, so an activity survives exits and crashes. Resume just by running a command against it.
- Photos: attach, annotate, and upload in the background; failed uploads stay on the task for retry and a checked photo task needs its uploads done.
- Completion: all required visible tasks done (and the guest report, for guest-facing types) unlocks complete, which builds the record, exports it, and clears the draft.
- Journal: every state change lands in the event log, view with 'fo log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().String("season", "", "season override (summer, winter)")
	rootCmd.PersistentFlags().String("occupancy", "", "occupancy override (occupied, vacant)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("season", rootCmd.PersistentFlags().Lookup("season"))
	_ = viper.BindPFlag("occupancy", rootCmd.PersistentFlags().Lookup("occupancy"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(activeCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(guestReportCmd())
	rootCmd.AddCommand(homeCmd())
	rootCmd.AddCommand(bookingCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fieldops.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Inspect activity templates",
		Long:  "Templates are the built-in checklists: flat task lists for quick activities, or arrive/during/depart phases with rooms for the heavier ones. Use --property to see a property override.",
	}
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	return tpl
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := template.New()
			if err != nil {
				return err
			}
			tpls := reg.Templates()
			if viper.GetBool("json") {
				return printJSON(tpls)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Type", "Property", "Phased", "Tasks"})
			for _, t := range tpls {
				tw.AppendRow(table.Row{t.Type, t.PropertyCode, t.Phased(), len(template.Flatten(t))})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func templateShowCmd() *cobra.Command {
	var property string
	cmd := &cobra.Command{
		Use:   "show <type>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := template.New()
			if err != nil {
				return err
			}
			tpl, err := reg.Resolve(domain.ActivityType(args[0]), property)
			if err != nil {
				return err
			}
			return printJSONOrTable(tpl)
		},
	}
	cmd.Flags().StringVar(&property, "property", "", "property code for override resolution")
	return cmd
}

func activeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the activity currently active on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				info, err := a.Registry.Active(ctx)
				if err != nil {
					return err
				}
				if info == nil {
					fmt.Println("No active activity.")
					return nil
				}
				return printJSONOrTable(info)
			})
		},
	}
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <save-switch|discard-switch|cancel>",
		Short: "Resolve an activity conflict",
		Long:  "save-switch keeps the other activity's draft for later resume; discard-switch deletes it; cancel leaves everything as is.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := registry.Resolution(args[0])
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Registry.Resolve(ctx, res)
			})
		},
	}
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Run an activity",
		Long:  "Start, inspect, and work through the active activity. Every command saves the draft on exit, so there is no explicit save step.",
	}
	act.AddCommand(activityStartCmd())
	act.AddCommand(activityListCmd())
	act.AddCommand(activitySwitchCmd())
	act.AddCommand(activityStatusCmd())
	act.AddCommand(activityToggleCmd())
	act.AddCommand(activityNoteCmd())
	act.AddCommand(activityNotesCmd())
	act.AddCommand(activityIssueCmd())
	act.AddCommand(activityPhotoCmd())
	act.AddCommand(activityCompleteCmd())
	return act
}

func activityStartCmd() *cobra.Command {
	var homeID, bookingID, typ, property, resolution string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start or resume an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := domain.ActivityType(typ)
			if !t.IsValid() {
				return fmt.Errorf("unknown activity type %q", typ)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := session.StartOptions{
					HomeID:       homeID,
					BookingID:    bookingID,
					Type:         t,
					PropertyCode: property,
					Context:      a.SessionContext(viper.GetString("season"), viper.GetString("occupancy")),
				}
				queue := a.NewQueue()
				defer queue.Stop()
				ctrl := a.NewSession(queue)
				err := ctrl.Start(ctx, opts)
				var conflict *registry.ConflictError
				if errors.As(err, &conflict) {
					if resolution == "" {
						fmt.Printf("Another activity is active: %s on home %s (%d/%d tasks done).\n",
							conflict.Active.ActivityType, conflict.Active.HomeCode,
							conflict.Active.CompletedTasks, conflict.Active.TotalTasks)
						fmt.Println("Re-run with --resolution save-switch or --resolution discard-switch, or 'fo resolve cancel' to stay.")
						return err
					}
					if err := a.Registry.Resolve(ctx, registry.Resolution(resolution)); err != nil {
						return err
					}
					err = ctrl.Start(ctx, opts)
				}
				if err != nil {
					return err
				}
				defer ctrl.Close(ctx)
				return printSnapshot(ctrl.View())
			})
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id")
	cmd.Flags().StringVar(&bookingID, "booking", "", "booking id")
	cmd.Flags().StringVar(&typ, "type", "", "activity type")
	cmd.Flags().StringVar(&property, "property", "", "property code for template overrides")
	cmd.Flags().StringVar(&resolution, "resolution", "", "conflict resolution (save-switch, discard-switch)")
	_ = cmd.MarkFlagRequired("home")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

type draftSummary struct {
	SessionKey string `json:"session_key"`
	Type       string `json:"type"`
	HomeID     string `json:"home_id"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	UpdatedAt  string `json:"updated_at"`
	Active     bool   `json:"active"`
}

func activityListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved activity drafts",
		Long:  "Every activity keeps an autosaved draft until it completes. The starred row is the one 'fo activity' commands resume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Store.ListDraftKeys(ctx)
				if err != nil {
					return err
				}
				activeKey, err := a.Store.ActiveKey(ctx)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				var items []draftSummary
				for _, key := range keys {
					payload, ok, err := a.Store.GetDraft(ctx, key)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					d, err := store.DecodeDraft(payload)
					if err != nil {
						continue
					}
					completed := 0
					for _, st := range d.TaskStates {
						if st.Completed {
							completed++
						}
					}
					items = append(items, draftSummary{
						SessionKey: key,
						Type:       string(d.Type),
						HomeID:     d.HomeID,
						Completed:  completed,
						Total:      len(d.TaskStates),
						UpdatedAt:  d.UpdatedAt,
						Active:     key == activeKey,
					})
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "Key", "Type", "Home", "Progress", "Updated"})
				for _, it := range items {
					mark := ""
					if it.Active {
						mark = "*"
					}
					tw.AppendRow(table.Row{mark, it.SessionKey, it.Type, it.HomeID,
						fmt.Sprintf("%d/%d", it.Completed, it.Total), it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func activitySwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <session-key>",
		Short: "Repoint the device at a saved draft",
		Long:  "Makes an already-saved draft the active activity. The previous activity's draft stays saved; this is the save-switch outcome applied to a key of your choosing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, ok, err := a.Store.GetDraft(ctx, args[0]); err != nil {
					return err
				} else if !ok {
					return fmt.Errorf("no draft at %s; see 'fo activity list'", args[0])
				}
				return a.Store.SetActiveKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func activityStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active activity's checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				return printSnapshot(ctrl.View())
			})
		},
	}
	return cmd
}

func activityToggleCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "toggle <task-id>",
		Short: "Check or uncheck a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				if err := ctrl.ToggleTask(ctx, args[0], !undo); err != nil {
					return err
				}
				return printSnapshot(ctrl.View())
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "uncheck instead of check")
	return cmd
}

func activityNoteCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "note <task-id>",
		Short: "Set a task's notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				return ctrl.UpdateNotes(ctx, args[0], text)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text (empty clears)")
	return cmd
}

func activityNotesCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Set the whole-activity notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				return ctrl.UpdateActivityNotes(ctx, text)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text (empty clears)")
	return cmd
}

func activityIssueCmd() *cobra.Command {
	var clear bool
	var rep domain.IssueReport
	cmd := &cobra.Command{
		Use:   "issue <task-id>",
		Short: "Flag an issue on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				if clear {
					return ctrl.ToggleReportIssue(ctx, args[0], false)
				}
				if rep.IssueType == "" {
					return ctrl.ToggleReportIssue(ctx, args[0], true)
				}
				return ctrl.UpdateIssueReport(ctx, args[0], rep)
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the issue flag")
	cmd.Flags().StringVar(&rep.IssueType, "type", "", "issue type")
	cmd.Flags().StringVar(&rep.Location, "location", "", "where in the home")
	cmd.Flags().StringVar(&rep.ItemAffected, "item", "", "item affected")
	cmd.Flags().StringVar(&rep.Priority, "priority", "medium", "priority (low, medium, high, urgent)")
	return cmd
}

func activityPhotoCmd() *cobra.Command {
	photo := &cobra.Command{
		Use:   "photo",
		Short: "Manage task photos",
	}
	photo.AddCommand(photoAddCmd())
	photo.AddCommand(photoRetryCmd())
	photo.AddCommand(photoRemoveCmd())
	photo.AddCommand(photoAnnotateCmd())
	return photo
}

func photoAddCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "add <task-id> <file>",
		Short: "Attach a photo and upload it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				p, err := ctrl.AddPhoto(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !noWait {
					p = waitForUpload(ctx, ctrl, args[0], p, a.Config.UploadTimeout()+2*time.Second)
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for the upload to finish")
	return cmd
}

func photoRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <task-id> <photo-id>",
		Short: "Retry a failed upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				if err := ctrl.RetryPhoto(ctx, args[0], args[1]); err != nil {
					return err
				}
				p := waitForUpload(ctx, ctrl, args[0], domain.Photo{ID: args[1], Status: domain.PhotoInQueue}, a.Config.UploadTimeout()+2*time.Second)
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func photoRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <task-id> <photo-id>",
		Short: "Remove a photo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				return ctrl.RemovePhoto(ctx, args[0], args[1])
			})
		},
	}
	return cmd
}

func photoAnnotateCmd() *cobra.Command {
	var ann domain.Annotation
	cmd := &cobra.Command{
		Use:   "annotate <task-id> <photo-id>",
		Short: "Annotate a photo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				return ctrl.AnnotatePhoto(ctx, args[0], args[1], ann)
			})
		},
	}
	cmd.Flags().Float64Var(&ann.X, "x", 0, "x position (0..1)")
	cmd.Flags().Float64Var(&ann.Y, "y", 0, "y position (0..1)")
	cmd.Flags().StringVar(&ann.Text, "text", "", "annotation text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func activityCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete the active activity and export its record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App, ctrl *session.Controller) error {
				rec, err := ctrl.Complete(ctx)
				if errors.Is(err, session.ErrExportFailed) {
					fmt.Fprintln(os.Stderr, "warning: activity completed, but the report export failed")
					return printJSONOrTable(rec)
				}
				var pending *session.GuestReportPendingError
				if errors.As(err, &pending) {
					fmt.Printf("The guest report for home %s is still pending.\n", pending.HomeID)
					fmt.Printf("Submit it, then mark it done: fo guest-report done %s %s\n", pending.HomeID, pending.ActivityID)
					return err
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func guestReportCmd() *cobra.Command {
	gr := &cobra.Command{
		Use:   "guest-report",
		Short: "Guest report hand-off",
	}
	gr.AddCommand(guestReportDoneCmd())
	return gr
}

func guestReportDoneCmd() *cobra.Command {
	var bookingID string
	cmd := &cobra.Command{
		Use:   "done <home-id> <activity-id>",
		Short: "Mark the guest report as submitted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Store.MarkGuestReport(ctx, args[0], args[1], bookingID)
			})
		},
	}
	cmd.Flags().StringVar(&bookingID, "booking", "", "booking id")
	return cmd
}

func homeCmd() *cobra.Command {
	home := &cobra.Command{
		Use:   "home",
		Short: "Manage the home directory",
	}
	home.AddCommand(homeImportCmd())
	home.AddCommand(homeListCmd())
	return home
}

func homeImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import homes from a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var homes []domain.Home
			if err := json.Unmarshal(data, &homes); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, h := range homes {
					if err := a.Store.UpsertHome(ctx, h); err != nil {
						return err
					}
				}
				fmt.Printf("imported %d homes\n", len(homes))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func homeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List homes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				homes, err := a.Store.ListHomes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(homes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Region"})
				for _, h := range homes {
					tw.AppendRow(table.Row{h.ID, h.Code, h.Name, h.Region})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func bookingCmd() *cobra.Command {
	booking := &cobra.Command{
		Use:   "booking",
		Short: "Manage bookings",
	}
	booking.AddCommand(bookingImportCmd())
	booking.AddCommand(bookingListCmd())
	return booking
}

func bookingImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bookings from a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var bookings []domain.Booking
			if err := json.Unmarshal(data, &bookings); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, b := range bookings {
					if err := a.Store.UpsertBooking(ctx, b); err != nil {
						return err
					}
				}
				fmt.Printf("imported %d bookings\n", len(bookings))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func bookingListCmd() *cobra.Command {
	var homeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				bookings, err := a.Store.ListBookings(ctx, homeID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bookings)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Home", "Guest", "Arrival", "Departure", "Occupied"})
				for _, b := range bookings {
					tw.AppendRow(table.Row{b.ID, b.HomeID, b.GuestName, b.Arrival, b.Departure, b.Occupied})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "filter by home id")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event journal",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, sessionKey string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := events.Latest(ctx, a.DB, n, evtType, sessionKey)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "session key filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"), newLogger())
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{App: a, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fieldops API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withSession resumes the device's active activity, runs fn, and closes
// the session again. The close flushes the draft, so every command is a
// save point.
func withSession(ctx context.Context, fn func(context.Context, *app.App, *session.Controller) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		info, err := a.Registry.Active(ctx)
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("no active activity; run 'fo activity start' first")
		}
		opts := session.StartOptions{
			HomeID:       info.HomeID,
			Type:         info.ActivityType,
			PropertyCode: info.HomeCode,
			Context:      a.SessionContext(viper.GetString("season"), viper.GetString("occupancy")),
		}
		if id, ok := domain.ActivityIDFromKey(info.SessionKey); ok {
			opts.ActivityID = id
		}
		queue := a.NewQueue()
		defer queue.Stop()
		ctrl := a.NewSession(queue)
		if err := ctrl.Start(ctx, opts); err != nil {
			return err
		}
		defer ctrl.Close(ctx)
		return fn(ctx, a, ctrl)
	})
}

// waitForUpload polls the snapshot until the photo leaves the queue or
// the deadline passes.
func waitForUpload(ctx context.Context, ctrl *session.Controller, taskID string, p domain.Photo, timeout time.Duration) domain.Photo {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cur, ok := findPhoto(ctrl.View(), taskID, p.ID); ok {
			if cur.Status != domain.PhotoInQueue {
				return cur
			}
		} else {
			return p
		}
		select {
		case <-ctx.Done():
			return p
		case <-time.After(100 * time.Millisecond):
		}
	}
	return p
}

func findPhoto(snap session.Snapshot, taskID, photoID string) (domain.Photo, bool) {
	scan := func(tasks []session.TaskView) (domain.Photo, bool) {
		for _, tv := range tasks {
			if tv.Task.ID != taskID {
				continue
			}
			for _, p := range tv.State.Photos {
				if p.ID == photoID {
					return p, true
				}
			}
		}
		return domain.Photo{}, false
	}
	if p, ok := scan(snap.Tasks); ok {
		return p, true
	}
	for _, ph := range snap.Phases {
		if p, ok := scan(ph.Tasks); ok {
			return p, true
		}
		for _, room := range ph.Rooms {
			if p, ok := scan(room.Tasks); ok {
				return p, true
			}
		}
	}
	return domain.Photo{}, false
}

func printSnapshot(snap session.Snapshot) error {
	if viper.GetBool("json") {
		return printJSON(snap)
	}
	fmt.Printf("%s on home %s (%s)\n", snap.Type, snap.HomeID, snap.State)
	fmt.Printf("Progress: %d/%d (%d%%), required %d/%d\n",
		snap.Counts.Completed, snap.Counts.Total, snap.Counts.Percent,
		snap.Required.Completed, snap.Required.Total)
	if snap.ReadyToFinish {
		fmt.Println("All required tasks done; run 'fo activity complete'.")
	} else if snap.CurrentTask != "" {
		fmt.Println("Next up:", snap.CurrentTask)
	}
	printTasks := func(indent string, tasks []session.TaskView) {
		for _, tv := range tasks {
			mark := " "
			if tv.State.Completed {
				mark = "x"
			}
			line := fmt.Sprintf("%s[%s] %s  %s", indent, mark, tv.Task.ID, tv.Task.Name)
			if tv.Task.PhotoRequired && tv.State.UploadedPhotos() < tv.Task.MinPhotos() {
				line += fmt.Sprintf(" (photos %d/%d)", tv.State.UploadedPhotos(), tv.Task.MinPhotos())
			}
			if tv.State.ReportIssue {
				line += " (!)"
			}
			fmt.Println(line)
		}
	}
	printTasks("", snap.Tasks)
	for _, ph := range snap.Phases {
		lock := ""
		if ph.Locked {
			lock = " [locked]"
		}
		fmt.Printf("%s%s  %d/%d\n", ph.Name, lock, ph.Counts.Completed, ph.Counts.Total)
		printTasks("  ", ph.Tasks)
		for _, room := range ph.Rooms {
			fmt.Printf("  %s  %d/%d\n", room.Room.Name, room.Counts.Completed, room.Counts.Total)
			printTasks("    ", room.Tasks)
		}
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
