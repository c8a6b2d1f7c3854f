// Package main is the entry point for the musicpi CLI
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/james-see/musicpi/pkg/api"
	"github.com/james-see/musicpi/pkg/config"
	"github.com/james-see/musicpi/pkg/export"
	"github.com/james-see/musicpi/pkg/handler"
	"github.com/james-see/musicpi/pkg/logging"
	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
	"github.com/james-see/musicpi/pkg/rfid"
	"github.com/james-see/musicpi/pkg/store"
	"github.com/james-see/musicpi/pkg/transport"
	"github.com/james-see/musicpi/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	dbRoot     string
	logLevel   string

	serverAddr string
	network    string
	userKey    string
	useRFID    bool
	outputFile string
	instrument string
	withHTTP   bool
	outDir     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "musicpi",
	Short: "Store and share MusicPi compositions",
	Long: `musicpi serves the MusicPi protocol over a flat-file music store and
talks to such a server.

Examples:
  musicpi user add AB12CD34EF alice
  musicpi serve --http
  musicpi connect -k AB12CD34EF
  musicpi add song.mus -k AB12CD34EF
  musicpi get 1700000000 -k AB12CD34EF -o song.mus
  musicpi export song.mus -o song.wav
  musicpi tui --rfid`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the protocol server",
	RunE:  runServe,
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Start the HTTP gateway only",
	RunE:  runHTTP,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Administer the user registry",
}

var userAddCmd = &cobra.Command{
	Use:   "add <rfid> <username>",
	Short: "Register or rename a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserAdd,
}

var userRmCmd = &cobra.Command{
	Use:   "rm <rfid>",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserRm,
}

var userLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE:  runUserLs,
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Check a key against the server",
	Args:  cobra.NoArgs,
	RunE:  runConnect,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the music ids of a user",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a music",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var addCmd = &cobra.Command{
	Use:   "add <file.mus|file.mid>",
	Short: "Upload a music",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a music",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var exportCmd = &cobra.Command{
	Use:   "export <file.mus|file.mid>",
	Short: "Convert a music file to MIDI or WAV",
	Long:  `Converts a stored .mus file or a MIDI file. The output format follows the extension of --output (.mus, .mid or .wav).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&dbRoot, "db", "", "Database root (overrides db_root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")

	serveCmd.Flags().BoolVar(&withHTTP, "http", false, "Also start the HTTP gateway")

	// Client commands
	for _, c := range []*cobra.Command{connectCmd, listCmd, getCmd, addCmd, deleteCmd, tuiCmd} {
		c.Flags().StringVarP(&serverAddr, "addr", "a", "", "Server address (default: listen.address)")
		c.Flags().StringVarP(&network, "network", "n", "", "tcp or udp (default: listen.network)")
	}
	for _, c := range []*cobra.Command{connectCmd, listCmd, getCmd, addCmd, deleteCmd} {
		c.Flags().StringVarP(&userKey, "key", "k", "", "RFID key (reads a badge when empty and --rfid is set)")
		c.Flags().BoolVar(&useRFID, "rfid", false, "Read the key from the RFID reader")
	}
	tuiCmd.Flags().BoolVar(&useRFID, "rfid", false, "Log in with the RFID reader")
	tuiCmd.Flags().StringVar(&outDir, "out", ".", "Directory for exports")

	getCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the music file here instead of stdout")
	addCmd.Flags().StringVar(&instrument, "instrument", "sine", "Instrument for notes imported from MIDI")
	exportCmd.Flags().StringVar(&instrument, "instrument", "sine", "Instrument for notes imported from MIDI")
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mus, .mid or .wav path (required)")
	_ = exportCmd.MarkFlagRequired("output")

	userCmd.AddCommand(userAddCmd, userRmCmd, userLsCmd)

	// Add commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(httpCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tuiCmd)
}

// loadConfig reads the config file and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbRoot != "" {
		cfg.DBRoot = dbRoot
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if serverAddr != "" {
		cfg.Listen.Address = serverAddr
	}
	if network != "" {
		cfg.Listen.Network = network
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}

func openStore(cfg *config.Config, log *zap.Logger) (*store.Store, error) {
	return store.New(cfg.DBRoot, store.WithLogger(log))
}

func newHandler(cfg *config.Config, log *zap.Logger) (*handler.Handler, error) {
	s, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	return handler.New(s,
		handler.WithLogger(log),
		handler.WithCodec(mpp.NewCodec(cfg.BufferSize)),
	), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	h, err := newHandler(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	srv := transport.NewServer(h,
		transport.WithLogger(log),
		transport.WithBufferSize(cfg.BufferSize),
		transport.WithIdleTimeout(5*time.Minute),
	)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Listen.Network, cfg.Listen.Address)
	})
	if withHTTP {
		gw := api.NewServer(h, log)
		g.Go(func() error {
			return gw.ListenAndServe(ctx, cfg.HTTP.Address)
		})
	}

	fmt.Printf("Serving MusicPi on %s %s (db: %s)\n", cfg.Listen.Network, cfg.Listen.Address, cfg.DBRoot)
	return g.Wait()
}

func runHTTP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	h, err := newHandler(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Starting HTTP gateway on %s...\n", cfg.HTTP.Address)
	fmt.Printf("Swagger docs available at http://%s/swagger/index.html\n", displayAddr(cfg.HTTP.Address))
	return api.NewServer(h, log).ListenAndServe(ctx, cfg.HTTP.Address)
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	if err := s.AddUser(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("✓ %s registered as %s\n", args[0], args[1])
	return nil
}

func runUserRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	if err := s.RemoveUser(args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ %s removed\n", args[0])
	return nil
}

func runUserLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	users, err := s.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("%-*s %s\n", mpp.UserKeySize, u.Key, u.Username)
	}
	return nil
}

// openReader picks the serial reader when a port is configured, the tag file
// otherwise
func openReader(cfg *config.Config, log *zap.Logger) (rfid.Reader, error) {
	if cfg.RFID.Port != "" {
		return rfid.OpenSerial(cfg.RFID.Port, cfg.RFID.Baud, log)
	}
	return rfid.NewFileReader(cfg.RFID.TagFile, 0, log), nil
}

// dial connects to the configured server and resolves the user key
func dial(cfg *config.Config) (*transport.Client, string, error) {
	key := userKey
	if key == "" && useRFID {
		r, err := openReader(cfg, zap.NewNop())
		if err != nil {
			return nil, "", err
		}
		defer r.Close()
		fmt.Fprintln(os.Stderr, "Present your badge...")
		ctx, cancel := signalContext()
		defer cancel()
		if key, err = r.ReadTag(ctx); err != nil {
			return nil, "", err
		}
	}
	if key == "" {
		return nil, "", errors.New("no key: use --key or --rfid")
	}

	c, err := transport.Dial(cfg.Listen.Network, cfg.Listen.Address, cfg.BufferSize)
	if err != nil {
		return nil, "", err
	}
	return c, key, nil
}

// clientRun dials, runs op and reports non-success codes as errors
func clientRun(op func(c *transport.Client, key string) (*mpp.Response, error)) (*mpp.Response, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c, key, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	resp, err := op(c, key)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid music id %q", s)
	}
	return id, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	resp, err := clientRun(func(c *transport.Client, key string) (*mpp.Response, error) {
		return c.Connect(key)
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Welcome %s\n", resp.Username)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := clientRun(func(c *transport.Client, key string) (*mpp.Response, error) {
		return c.ListMusic(key)
	})
	if err != nil {
		return err
	}
	for _, id := range resp.MusicIDs.IDs() {
		fmt.Printf("%d\t%s\n", id, time.Unix(id, 0).Format(time.RFC3339))
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	resp, err := clientRun(func(c *transport.Client, key string) (*mpp.Response, error) {
		return c.GetMusic(key, id)
	})
	if err != nil {
		return err
	}

	data := mpp.MarshalMusic(resp.Music)
	if outputFile == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return err
	}
	fmt.Printf("✓ Music %d written to %s\n", id, outputFile)
	return nil
}

func instrumentFlag() (music.Instrument, error) {
	return music.ParseInstrument(instrument)
}

func runAdd(cmd *cobra.Command, args []string) error {
	inst, err := instrumentFlag()
	if err != nil {
		return err
	}
	m, err := export.LoadFile(args[0], inst)
	if err != nil {
		return err
	}
	resp, err := clientRun(func(c *transport.Client, key string) (*mpp.Response, error) {
		return c.AddMusic(key, m)
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Music %d stored (%s)\n", m.CreatedAt, resp.Code)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if _, err := clientRun(func(c *transport.Client, key string) (*mpp.Response, error) {
		return c.DeleteMusic(key, id)
	}); err != nil {
		return err
	}
	fmt.Printf("✓ Music %d deleted\n", id)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	inst, err := instrumentFlag()
	if err != nil {
		return err
	}
	input := args[0]

	fmt.Printf("Converting %s -> %s\n", input, outputFile)
	if err := export.ConvertFile(input, outputFile, inst); err != nil {
		return err
	}
	fmt.Println("Conversion complete!")
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := transport.Dial(cfg.Listen.Network, cfg.Listen.Address, cfg.BufferSize)
	if err != nil {
		return err
	}
	defer c.Close()

	var reader rfid.Reader
	if useRFID {
		if reader, err = openReader(cfg, zap.NewNop()); err != nil {
			return err
		}
		defer reader.Close()
	}
	return tui.Run(c, reader, outDir)
}
