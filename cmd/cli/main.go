package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/auth"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/csvimport"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/pipeline"
	"github.com/rs/zerolog"
)

const loginTimeout = 5 * time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}
	if cmd == "template" {
		runTemplate()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local storage")
	}
	defer a.Close()

	switch cmd {
	case "login":
		runLogin(ctx, a, log)
	case "logout":
		runLogout(a, log)
	case "status":
		runStatus(a)
	case "import":
		runImport(ctx, a, log)
	case "sync":
		runSync(ctx, a, log)
	case "show":
		runShow(a, log)
	case "report":
		runReport(a, log)
	case "check":
		runCheck(a, log)
	case "clear":
		runClear(a, log)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		a.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("finsync: personal finance data with cloud sync")
	fmt.Println("\nUsage:")
	fmt.Println("  finsync <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  login     Sign in with Google")
	fmt.Println("  logout    Sign out and remove local data")
	fmt.Println("  status    Show the signed-in user and local data")
	fmt.Println("  import    Import expenses from a CSV or XLSX file")
	fmt.Println("  template  Print the import template")
	fmt.Println("  sync      Sync with cloud storage (push, pull or full)")
	fmt.Println("  show      List a collection")
	fmt.Println("  report    Show the monthly summary")
	fmt.Println("  check     Report data quality problems")
	fmt.Println("  clear     Remove local data of the signed-in user")
	fmt.Println("  help      Show this help message")
	fmt.Printf("\nConfiguration is read from %s and FINSYNC_* variables.\n", config.Path())
	fmt.Println("Run 'finsync <command> -h' for more information on a command.")
}

// requireUser exits unless somebody is signed in.
func requireUser(a *app.App, log zerolog.Logger) (domain.UserSession, *localstore.Store) {
	user, ok := a.Provider.CurrentUser()
	if !ok {
		log.Fatal().Msg("Not signed in. Run 'finsync login' first.")
	}
	return user, a.Store(user.ID)
}

func runLogin(ctx context.Context, a *app.App, log zerolog.Logger) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	noBrowser := fs.Bool("no-browser", false, "Print the sign-in URL without listening for the redirect")
	code := fs.String("code", "", "Authorization code, with -no-browser")
	fs.Parse(os.Args[2:])

	if a.Config.Auth.ClientID == "" {
		log.Fatal().Msg("auth.client_id is not configured")
	}

	flow, err := a.Provider.Begin()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start sign-in")
	}

	var cb auth.Callback
	if *noBrowser {
		if *code == "" {
			fmt.Printf("Open this URL, then rerun with -code:\n\n  %s\n\n", flow.URL)
			fmt.Println("The code must come from this same run; state is not kept between runs.")
			return
		}
		cb = auth.Callback{Code: *code, State: flow.State}
	} else {
		redirect, err := url.Parse(a.Config.Auth.RedirectURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid auth.redirect_url")
		}
		ln, err := net.Listen("tcp", redirect.Host)
		if err != nil {
			log.Fatal().Err(err).Str("addr", redirect.Host).Msg("Failed to listen for the sign-in redirect")
		}

		fmt.Printf("Open this URL to sign in:\n\n  %s\n\n", flow.URL)
		waitCtx, cancel := context.WithTimeout(ctx, loginTimeout)
		cb, err = auth.WaitForCallback(waitCtx, ln)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Sign-in did not complete")
		}
	}

	user, err := a.Provider.Complete(ctx, flow, cb.Code, cb.State)
	if err != nil {
		log.Fatal().Err(err).Msg("Sign-in failed")
	}
	fmt.Printf("Signed in as %s (%s)\n", user.Name, user.Email)

	if !a.SyncEnabled() {
		return
	}
	engine, err := a.Engine(ctx, a.Store(user.ID))
	if err != nil {
		log.Warn().Err(err).Msg("Cloud sync unavailable")
		return
	}
	if engine.SyncFromCloud(ctx) {
		fmt.Println("Loaded your data from cloud storage.")
	}
}

func runLogout(a *app.App, log zerolog.Logger) {
	if err := a.Provider.Logout(); err != nil {
		log.Fatal().Err(err).Msg("Logout failed")
	}
	fmt.Println("Signed out.")
}

func runStatus(a *app.App) {
	user, ok := a.Provider.CurrentUser()
	if !ok {
		fmt.Println("Not signed in.")
		return
	}
	store := a.Store(user.ID)
	meta := store.SyncMeta()

	fmt.Printf("User:      %s <%s>\n", user.Name, user.Email)
	fmt.Printf("Storage:   %s\n", a.Config.Storage.Backend)
	fmt.Printf("Remote:    %s\n", a.Config.Remote.Provider)
	if meta.LastSync.IsZero() {
		fmt.Println("Last sync: never")
	} else {
		fmt.Printf("Last sync: %s (version %d)\n", meta.LastSync.Local().Format(time.RFC1123), meta.Version)
	}

	snap := store.Snapshot()
	fmt.Println()
	fmt.Printf("  %-15s %d\n", domain.CollectionExpenses, len(snap.Expenses))
	fmt.Printf("  %-15s %d\n", domain.CollectionIncome, len(snap.Income))
	fmt.Printf("  %-15s %d\n", domain.CollectionCategories, len(snap.Categories))
	fmt.Printf("  %-15s %d\n", domain.CollectionGoals, len(snap.Goals))
	fmt.Printf("  %-15s %d\n", domain.CollectionBills, len(snap.Bills))
	fmt.Printf("  %-15s %d\n", domain.CollectionInvestments, len(snap.Investments))
}

func runImport(ctx context.Context, a *app.App, log zerolog.Logger) {
	opts := a.ImportOptions()

	fs := flag.NewFlagSet("import", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a CSV or XLSX file")
	fs.IntVar(&opts.Year, "year", opts.Year, "Year for dates without one")
	fs.StringVar(&opts.Payer, "payer", opts.Payer, "Payer when the file has no Paid By column")
	fs.BoolVar(&opts.AllowPartial, "allow-partial", opts.AllowPartial, "Import valid rows even when some rows are invalid")
	noPush := fs.Bool("no-push", false, "Do not push to cloud storage after importing")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: finsync import -file PATH")
	}

	user, store := requireUser(a, log)
	ctx = logger.WithContext(ctx, logger.ForUser(log, user.ID))

	state, err := pipeline.ImportFile(ctx, *filePath, pipeline.StoreSink{Store: store}, opts)
	if state.Message != "" {
		fmt.Println(state.Message)
	}
	if errors.Is(err, pipeline.ErrRejected) {
		fmt.Println("Nothing was imported. Fix the rows above or rerun with -allow-partial.")
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	if *noPush || !a.SyncEnabled() {
		return
	}
	engine, err := a.Engine(ctx, store)
	if err != nil {
		log.Warn().Err(err).Msg("Cloud sync unavailable")
		return
	}
	if !engine.SyncToCloud(ctx) {
		fmt.Println("Saved locally; cloud upload failed. Run 'finsync sync push' to retry.")
	}
}

func runTemplate() {
	fs := flag.NewFlagSet("template", flag.ExitOnError)
	out := fs.String("o", "", "Write the template to a file instead of stdout")
	fs.Parse(os.Args[2:])

	if *out == "" {
		fmt.Print(csvimport.Template())
		return
	}
	if err := os.WriteFile(*out, []byte(csvimport.Template()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Template written to %s\n", *out)
}

func runSync(ctx context.Context, a *app.App, log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	timeout := fs.Duration("timeout", 2*time.Minute, "Give up after this long")
	fs.Parse(os.Args[2:])

	direction := "full"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}

	_, store := requireUser(a, log)
	engine, err := a.Engine(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Cloud sync unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var ok bool
	switch direction {
	case "push":
		ok = engine.SyncToCloud(ctx)
	case "pull":
		ok = engine.SyncFromCloud(ctx)
	case "full":
		ok = engine.FullSync(ctx)
	default:
		log.Fatal().Str("direction", direction).Msg("Usage: finsync sync [push|pull|full]")
	}

	if !ok {
		log.Fatal().Str("direction", direction).Msg("Sync did not complete")
	}
	meta := store.SyncMeta()
	fmt.Printf("Sync %s completed. Version %d, last sync %s\n", direction, meta.Version, meta.LastSync.Local().Format(time.RFC1123))
}

func runClear(a *app.App, log zerolog.Logger) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm removal")
	fs.Parse(os.Args[2:])

	user, store := requireUser(a, log)
	if !*yes {
		log.Fatal().Msg("This removes all local data of the signed-in user. Rerun with -yes to confirm.")
	}
	if err := store.ClearAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to clear local data")
	}
	fmt.Printf("Local data of %s removed. Cloud data is unchanged.\n", user.Email)
}
