package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hwtools/avrmake/embedded"
	"github.com/hwtools/avrmake/internal/boards"
	"github.com/hwtools/avrmake/internal/build"
	"github.com/hwtools/avrmake/internal/config"
	"github.com/hwtools/avrmake/internal/hexfile"
	"github.com/hwtools/avrmake/internal/monitor"
	"github.com/hwtools/avrmake/internal/serial"
	"github.com/hwtools/avrmake/internal/toolchain"
	"github.com/hwtools/avrmake/internal/upload"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	sketchFlag   string
	boardFlag    string
	subFlag      string
	portFlag     string
	baudFlag     int
	sdkFlag      string
	buildDirFlag string
	jobsFlag     int
	verboseFlag  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avrmake",
		Short: "Build and upload AVR sketches without the IDE",
		Long: `avrmake compiles a sketch directory against the Arduino AVR core and
uploads the result to a board over its serial port.

Board parameters (MCU, clock, upload protocol) come from the SDK's
boards.txt, selected with BOARD_TAG/BOARD_SUB or the --board/--sub
flags. Configuration can also live in an avrmake.env file next to
the sketch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&sketchFlag, "sketch", "s", ".", "Sketch directory")
	pf.StringVar(&boardFlag, "board", "", "Board tag from boards.txt (default from BOARD_TAG)")
	pf.StringVar(&subFlag, "sub", "", "Board cpu variant (default from BOARD_SUB)")
	pf.StringVar(&sdkFlag, "sdk", "", "Arduino SDK directory (default from ARDUINO_DIR)")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Echo every tool invocation")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the sketch and produce .elf/.hex/.eep images",
		RunE:  runBuild,
	}
	buildCmd.Flags().StringVar(&buildDirFlag, "build-dir", "", "Build output directory")
	buildCmd.Flags().IntVarP(&jobsFlag, "jobs", "j", 0, "Parallel compile jobs (default: CPU count)")

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Build if needed, then flash the board over serial",
		RunE:  runUpload,
	}
	uploadCmd.Flags().StringVar(&buildDirFlag, "build-dir", "", "Build output directory")
	uploadCmd.Flags().IntVarP(&jobsFlag, "jobs", "j", 0, "Parallel compile jobs (default: CPU count)")
	uploadCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the build output directory",
		RunE:  runClean,
	}
	cleanCmd.Flags().StringVar(&buildDirFlag, "build-dir", "", "Build output directory")

	sizeCmd := &cobra.Command{
		Use:   "size",
		Short: "Report flash usage of the built image",
		RunE:  runSize,
	}
	sizeCmd.Flags().StringVar(&buildDirFlag, "build-dir", "", "Build output directory")

	boardsCmd := &cobra.Command{
		Use:   "boards",
		Short: "List known board tags",
		RunE:  runBoards,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Open a raw serial monitor on the board's port",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	monitorCmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Baud rate (default from MONITOR_BAUDRATE)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("avrmake %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(buildCmd, uploadCmd, cleanCmd, sizeCmd, boardsCmd, listCmd, monitorCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(toolchain.ExitCode(err))
	}
}

// session is the resolved state shared by the build-related commands:
// configuration, board parameters and SDK paths.
type session struct {
	cfg   *config.Config
	board *boards.Board

	mcu, fcpu     string
	core, variant string
	maxSize       int // flash capacity, upload.maximum_size
	maxData       int // RAM capacity, upload.maximum_data_size
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(sketchFlag)
	if err != nil {
		return nil, err
	}
	if boardFlag != "" {
		cfg.BoardTag = boardFlag
	}
	if subFlag != "" {
		cfg.BoardSub = subFlag
	}
	if sdkFlag != "" {
		cfg.ArduinoDir = sdkFlag
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if buildDirFlag != "" {
		cfg.BuildDir = buildDirFlag
	}
	return cfg, nil
}

// loadBoards reads the SDK's boards.txt when available, falling back
// to the built-in database.
func loadBoards(cfg *config.Config) (*boards.Database, error) {
	if path := cfg.BoardsFile(); path != "" {
		if _, err := os.Stat(path); err == nil {
			return boards.ParseFile(path)
		}
	}
	return boards.Parse(bytes.NewReader(embedded.BoardsTxt()))
}

func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := loadBoards(cfg)
	if err != nil {
		return nil, err
	}
	board, err := db.Lookup(cfg.BoardTag, cfg.BoardSub)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, board: board}

	s.mcu = cfg.MCU
	if s.mcu == "" {
		if s.mcu, err = board.Require("build.mcu"); err != nil {
			return nil, err
		}
	}
	s.fcpu = cfg.FCPU
	if s.fcpu == "" {
		if s.fcpu, err = board.Require("build.f_cpu"); err != nil {
			return nil, err
		}
	}
	if s.core, err = board.Require("build.core"); err != nil {
		return nil, err
	}
	if s.variant, err = board.Require("build.variant"); err != nil {
		return nil, err
	}
	if ms, ok := board.Get("upload.maximum_size"); ok {
		if s.maxSize, err = strconv.Atoi(ms); err != nil {
			return nil, fmt.Errorf("bad %s.upload.maximum_size %q", board.Tag, ms)
		}
	}
	if md, ok := board.Get("upload.maximum_data_size"); ok {
		if s.maxData, err = strconv.Atoi(md); err != nil {
			return nil, fmt.Errorf("bad %s.upload.maximum_data_size %q", board.Tag, md)
		}
	}
	return s, nil
}

func (s *session) builder() (*build.Builder, error) {
	if err := s.cfg.ValidateSDK(s.core, s.variant); err != nil {
		return nil, err
	}
	opts := build.Options{
		Name:           s.cfg.SketchName(),
		SketchDir:      s.cfg.SketchDir,
		BuildDir:       s.cfg.EffectiveBuildDir(),
		CoreDir:        s.cfg.CoreDir(s.core),
		VariantDir:     s.cfg.VariantDir(s.variant),
		MCU:            s.mcu,
		FCPU:           s.fcpu,
		BoardDefine:    s.board.GetDefault("build.board", ""),
		ArduinoVersion: s.cfg.ArduinoVersion,
		ExtraCFlags:    s.cfg.ExtraCFlags,
		ExtraCXXFlags:  s.cfg.ExtraCXXFlags,
		ExtraLDFlags:   s.cfg.ExtraLDFlags,
		Jobs:           jobsFlag,
		Verbose:        verboseFlag,
	}
	return build.New(opts, toolchain.New(s.cfg.AVRToolsDir), toolchain.NewRunner(verboseFlag))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBuild(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	b, err := s.builder()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("Board: %s (%s @ %s)\n", s.board.Name(), s.mcu, s.fcpu)
	if err := b.Build(ctx); err != nil {
		return err
	}
	return s.reportSize(ctx, b.Plan().Hex, b.Plan().ELF)
}

func runUpload(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	b, err := s.builder()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("Board: %s (%s @ %s)\n", s.board.Name(), s.mcu, s.fcpu)
	if err := b.Build(ctx); err != nil {
		return err
	}
	hex := b.Plan().Hex
	if err := s.reportSize(ctx, hex, b.Plan().ELF); err != nil {
		return err
	}

	protocol := s.cfg.Programmer
	if protocol == "" {
		if protocol, err = s.board.Require("upload.protocol"); err != nil {
			return err
		}
	}
	speed := s.cfg.UploadSpeed
	if speed == "" {
		speed = s.board.GetDefault("upload.speed", "")
	}

	opts := upload.Options{
		Port:            s.cfg.Port,
		MCU:             s.mcu,
		Protocol:        protocol,
		Speed:           speed,
		Conf:            s.cfg.AvrdudeConf,
		HexPath:         hex,
		Use1200bpsTouch: s.board.Flag("upload.use_1200bps_touch"),
		WaitForPort:     s.board.Flag("upload.wait_for_upload_port"),
		NoErase:         protocol == "wiring",
		Verbose:         verboseFlag,
	}
	tc := toolchain.New(s.cfg.AVRToolsDir)
	if err := upload.Upload(ctx, tc, toolchain.NewRunner(verboseFlag), opts); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.EffectiveBuildDir()
	fmt.Printf("Removing %s\n", dir)
	return build.Clean(dir)
}

func runSize(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	dir := s.cfg.EffectiveBuildDir()
	name := s.cfg.SketchName()
	return s.reportSize(ctx, filepath.Join(dir, name+".hex"), filepath.Join(dir, name+".elf"))
}

// reportSize prints the flash and RAM usage of a built image and
// errors out when either exceeds the board's capacity.
func (s *session) reportSize(ctx context.Context, hexPath, elfPath string) error {
	st, err := hexfile.Stat(hexPath)
	if err != nil {
		return err
	}
	fmt.Println(st.Report(s.maxSize))
	if err := st.CheckFits(s.maxSize); err != nil {
		return err
	}
	si, err := build.ReadSize(ctx, toolchain.New(s.cfg.AVRToolsDir), toolchain.NewRunner(verboseFlag), elfPath)
	if err != nil {
		return err
	}
	fmt.Println(si.RAMReport(s.maxData))
	return si.CheckFits(s.maxData)
}

func runBoards(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := loadBoards(cfg)
	if err != nil {
		return err
	}
	tags := db.Tags()
	if len(tags) == 0 {
		fmt.Println("No boards found")
		return nil
	}
	for _, tag := range tags {
		fmt.Printf("  %-16s %s\n", tag.ID, tag.Name)
		for _, sub := range db.Subs(tag.ID) {
			fmt.Printf("  %-16s   --sub %s\n", "", sub)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	port := cfg.Port
	if port == "" {
		if port, err = upload.DetectPort(); err != nil {
			return err
		}
	}
	baud := baudFlag
	if baud == 0 {
		baud = cfg.MonitorBaud
	}
	p, err := serial.Open(port, baud)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return monitor.Run(ctx, p, os.Stdin, os.Stdout)
}
