package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tollform/tollform/internal/config"
	"github.com/tollform/tollform/internal/history"
	"github.com/tollform/tollform/internal/inbox"
	"github.com/tollform/tollform/internal/mail"
	"github.com/tollform/tollform/internal/template"
	"github.com/tollform/tollform/internal/web"
)

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "tollform",
		Short: "Tollform - Toll information form and email pipeline",
		Long: `Tollform serves a web form where visitors submit their NY/NJ toll
account details, forwards each submission to the operator by email, and
monitors the operator inbox for toll-related replies so requesters get an
automatic confirmation.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tollform/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long:  "Create a configuration file with placeholder mail and inbox settings to fill in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the form server (and inbox monitor when enabled)",
		Long: `Start the HTTP server that serves the toll information form and its
submission endpoint. When inbox monitoring is enabled in the config, the
IMAP poller runs alongside it and sends confirmations for relevant replies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")

	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one inbox poll cycle and exit",
		Long:  "Connect to the configured IMAP inbox, process any new toll-related messages, and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the inbox monitor without the web server",
		Long: `Poll the configured IMAP inbox on the configured interval, extracting
toll information from relevant messages and sending confirmations.

Requires inbox settings in the config file. Use an app password, not your
main email password.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}
}

func statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show submission and inbox history",
		Long:  "Display recent form submissions, recently processed inbound messages, and overall counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent entries to show")

	return cmd
}

func runInit() error {
	configPath := resolveConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: 3000,
			Mode: "development",
		},
		Mail: config.MailConfig{
			Provider: "smtp",
			From:     "you@example.com",
			FromName: "Toll Information Form",
			Operator: "operator@example.com",
			SMTP: config.SMTPConfig{
				Host:   "smtp.gmail.com",
				Port:   465,
				UseTLS: true,
			},
		},
		Inbox: config.InboxConfig{
			Enabled:         false,
			Server:          "imap.gmail.com",
			Port:            993,
			Folder:          "INBOX",
			PollIntervalSec: 60,
		},
	}

	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Configuration written to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the config with your mail provider settings")
	fmt.Println("  2. Set secrets via environment (SMTP_PASSWORD, SENDGRID_API_KEY, ...) or in the file")
	fmt.Println("  3. Run 'tollform serve' to start the form server")

	return nil
}

// loadConfig loads .env (when present) and the config file.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func buildPipeline(sender mail.Sender, engine *template.Engine, store *history.Store) *inbox.Pipeline {
	responder := inbox.NewResponder(sender, engine)
	return inbox.NewPipeline(responder, func(o inbox.Outcome) {
		if store == nil {
			return
		}
		rec := &history.InboundMessage{
			UID:              int64(o.Message.UID),
			FromAddr:         o.Message.From,
			Subject:          o.Message.Subject,
			Relevant:         o.Relevant,
			Extracted:        o.Record != nil,
			ConfirmationSent: o.ConfirmationSent,
			SkipReason:       o.SkipReason,
			ReceivedAt:       o.Message.ReceivedAt,
		}
		if err := store.AddInbound(rec); err != nil {
			log.Printf("Error recording inbound message: %v", err)
		}
	})
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer store.Close()

	sender, err := mail.NewSender(cfg.Mail)
	if err != nil {
		return fmt.Errorf("failed to initialize mail sender: %w", err)
	}

	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	var monitor *inbox.Monitor
	if cfg.Inbox.Enabled {
		if err := cfg.ValidateInbox(); err != nil {
			return fmt.Errorf("invalid inbox config: %w", err)
		}

		mailbox := inbox.NewIMAPMailbox(cfg.Inbox)
		pipeline := buildPipeline(sender, engine, store)
		monitor = inbox.NewMonitor(mailbox, time.Duration(cfg.Inbox.PollIntervalSec)*time.Second, pipeline.Process)
		monitor.SetMarkAsRead(cfg.Inbox.MarkAsRead)

		go func() {
			if err := monitor.Start(context.Background()); err != nil && err != context.Canceled {
				log.Printf("Inbox monitor stopped: %v", err)
			}
		}()
	} else {
		log.Printf("Inbox monitoring disabled")
	}

	server, err := web.NewServer(cfg, sender, engine, store, monitor)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	if cfg.Server.Mode == "development" {
		log.Printf("Running in development mode")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		if monitor != nil {
			monitor.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	return server.Start()
}

func runCheck() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateInbox(); err != nil {
		printInboxHelp()
		return err
	}

	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer store.Close()

	sender, err := mail.NewSender(cfg.Mail)
	if err != nil {
		return fmt.Errorf("failed to initialize mail sender: %w", err)
	}

	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	mailbox := inbox.NewIMAPMailbox(cfg.Inbox)
	pipeline := buildPipeline(sender, engine, store)
	monitor := inbox.NewMonitor(mailbox, time.Duration(cfg.Inbox.PollIntervalSec)*time.Second, pipeline.Process)
	monitor.SetMarkAsRead(cfg.Inbox.MarkAsRead)
	defer monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := monitor.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to inbox: %w", err)
	}

	return monitor.Poll(ctx)
}

func runMonitor() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateInbox(); err != nil {
		printInboxHelp()
		return err
	}

	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer store.Close()

	sender, err := mail.NewSender(cfg.Mail)
	if err != nil {
		return fmt.Errorf("failed to initialize mail sender: %w", err)
	}

	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	mailbox := inbox.NewIMAPMailbox(cfg.Inbox)
	pipeline := buildPipeline(sender, engine, store)
	monitor := inbox.NewMonitor(mailbox, time.Duration(cfg.Inbox.PollIntervalSec)*time.Second, pipeline.Process)
	monitor.SetMarkAsRead(cfg.Inbox.MarkAsRead)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		monitor.Stop()
		cancel()
	}()

	fmt.Printf("Monitoring %s for toll-related messages (every %ds, Ctrl+C to stop)...\n",
		cfg.Inbox.Email, cfg.Inbox.PollIntervalSec)

	if err := monitor.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func printInboxHelp() {
	fmt.Println("Inbox monitoring is not configured.")
	fmt.Println()
	fmt.Println("Add the following to your config.yaml:")
	fmt.Println()
	fmt.Println("inbox:")
	fmt.Println("  enabled: true")
	fmt.Println("  server: imap.gmail.com")
	fmt.Println("  port: 993")
	fmt.Println("  email: your-email@gmail.com")
	fmt.Println("  password: your-app-password  # Use an App Password, not your main password")
	fmt.Println()
	fmt.Println("For Gmail you will need to:")
	fmt.Println("  1. Enable 2-Step Verification")
	fmt.Println("  2. Generate an App Password at https://myaccount.google.com/apppasswords")
	fmt.Println("  3. Enable IMAP in Gmail settings")
}

func runStatus(limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Tollform Statistics")
	fmt.Println("========================================")
	fmt.Println()
	fmt.Printf("  Form submissions:   %d (%d failed)\n", stats.Submissions, stats.SubmissionsFailed)
	fmt.Printf("  Inbound processed:  %d (%d relevant)\n", stats.InboundSeen, stats.InboundRelevant)
	fmt.Printf("  Confirmations sent: %d\n", stats.ConfirmationsSent)

	submissions, err := store.RecentSubmissions(limit)
	if err != nil {
		return fmt.Errorf("failed to get recent submissions: %w", err)
	}
	if len(submissions) > 0 {
		fmt.Println()
		fmt.Printf("Recent Submissions (last %d)\n", limit)
		fmt.Println("========================================")
		for _, s := range submissions {
			marker := "ok"
			if s.Status == history.StatusFailed {
				marker = "FAILED"
			}
			fmt.Printf("%s  %s - %s <%s> [%s]\n",
				marker, s.CreatedAt.Format("2006-01-02 15:04"), s.Name, s.Email, s.TollType)
			if s.Error != "" {
				fmt.Printf("    Error: %s\n", s.Error)
			}
		}
	}

	inboundMsgs, err := store.RecentInbound(limit)
	if err != nil {
		return fmt.Errorf("failed to get recent inbound messages: %w", err)
	}
	if len(inboundMsgs) > 0 {
		fmt.Println()
		fmt.Printf("Recent Inbound Messages (last %d)\n", limit)
		fmt.Println("========================================")
		for _, m := range inboundMsgs {
			state := "skipped"
			if m.ConfirmationSent {
				state = "confirmed"
			} else if m.Relevant && m.Extracted {
				state = "send failed"
			}
			fmt.Printf("%s  %s - %s (%q)\n",
				state, m.ProcessedAt.Format("2006-01-02 15:04"), m.FromAddr, m.Subject)
			if m.SkipReason != "" {
				fmt.Printf("    Reason: %s\n", m.SkipReason)
			}
		}
	}

	return nil
}
