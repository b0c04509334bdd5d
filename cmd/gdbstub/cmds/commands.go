package cmds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hwemu/gdbstub/pkg/arch"
	"github.com/hwemu/gdbstub/pkg/config"
	"github.com/hwemu/gdbstub/pkg/logflags"
	"github.com/hwemu/gdbstub/pkg/machine/sim"
	"github.com/hwemu/gdbstub/pkg/proc"
	"github.com/hwemu/gdbstub/pkg/version"
	"github.com/hwemu/gdbstub/service"
	"github.com/hwemu/gdbstub/service/rsp"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// addr is the debugging server listen address.
	addr string
	// configFile is the path of the configuration file, empty for the
	// default one.
	configFile string
	// acceptMulti allows debuggers to reconnect after the first one leaves.
	acceptMulti bool
	// packetSize is the maximum packet size advertised to debuggers.
	packetSize int
	// halted keeps every core halted until a debugger resumes it.
	halted bool

	// targetXML prints the target description instead of the register table.
	targetXML bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const gdbstubCommandLongDesc = `gdbstub exposes an emulated multi-core machine to GDB.

Every core of the machine is presented to the debugger as a thread. The cores
run on their own and are stopped, stepped and inspected on request of the
debugger, using the GDB remote serial protocol over TCP.

Connect with:

	(gdb) target extended-remote 127.0.0.1:1234
`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Main gdbstub root command.
	rootCommand = &cobra.Command{
		Use:          "gdbstub",
		Short:        "gdbstub is a GDB server for emulated machines.",
		Long:         gdbstubCommandLongDesc,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'gdbstub help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'gdbstub help log').")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Start the machine and serve debuggers.",
		Long: `Creates the machine described by the configuration file, starts its cores and
waits for a debugger to connect.

Unless --accept-multiclient is passed gdbstub exits when the first debugger
disconnects. The machine is never reset on behalf of the debugger: detaching or
killing only ends the debug session.`,
		Args: cobra.NoArgs,
		RunE: serveCmd,
	}
	serveCommand.Flags().StringVarP(&addr, "listen", "l", config.DefaultListen, "Debugging server listen address.")
	serveCommand.Flags().StringVar(&configFile, "config", "", "Configuration file, defaults to ~/.gdbstub/config.yml.")
	serveCommand.Flags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Keep serving after the first debugger disconnects.")
	serveCommand.Flags().IntVar(&packetSize, "packet-size", rsp.DefaultPacketSize, "Maximum packet size advertised to the debugger.")
	serveCommand.Flags().BoolVar(&halted, "halted", false, "Keep the cores halted until the debugger resumes them.")
	rootCommand.AddCommand(serveCommand)

	// 'arch' subcommand.
	archCommand := &cobra.Command{
		Use:   "arch [name]",
		Short: "Print the supported architectures or the registers of one.",
		Long: `Without arguments prints the name of every supported architecture.

With an architecture name prints its register table, or the target description
served to the debugger if --xml is passed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: archCmd,
	}
	archCommand.Flags().BoolVar(&targetXML, "xml", false, "Print the target description document.")
	rootCommand.AddCommand(archCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gdbstub\n%s\n", version.GdbstubVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	gdbwire		Log packets exchanged with the debugger
	session		Log debugger sessions (default)
	exec		Log core run state changes
	machine		Log the execution threads of the emulated cores
	monitor		Log monitor commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	return rootCommand
}

func serveCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Make a TCP listener
	listener, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return fmt.Errorf("couldn't start listener: %s", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "gdbstub server listening at: %s\n", listener.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return serve(ctx, conf, listener, halted)
}

// loadConfig reads the configuration file and applies the command line
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var conf *config.Config
	var err error
	if configFile != "" {
		conf, err = config.LoadConfigFs(afero.NewOsFs(), configFile)
		if err != nil {
			return nil, err
		}
	} else {
		conf, err = config.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v, using the default configuration\n", err)
			conf = config.Default()
		}
	}
	if err := applyFlags(cmd.Flags(), conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFlags overrides the options of conf with the flags of fs that were
// set on the command line.
func applyFlags(fs *pflag.FlagSet, conf *config.Config) error {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			conf.Listen = addr
		case "accept-multiclient":
			conf.AcceptMulti = acceptMulti
		case "packet-size":
			conf.PacketSize = packetSize
		}
	})
	if conf.PacketSize < 0 {
		return errors.New("packet size must be positive")
	}
	return nil
}

// serve runs the machine described by conf and serves debuggers on listener
// until ctx is cancelled, an interrupt signal is received or, in single
// client mode, the debugger disconnects.
func serve(ctx context.Context, conf *config.Config, listener net.Listener, startHalted bool) error {
	m, err := sim.New(conf.Machine)
	if err != nil {
		listener.Close()
		return err
	}
	defer m.Close()
	ctrl := proc.New(m)
	defer ctrl.Detach()
	if !startHalted {
		m.Start()
	}

	disconnectChan := make(chan struct{})
	var server service.Server = rsp.NewServer(&service.Config{
		Listener:       listener,
		AcceptMulti:    conf.AcceptMulti,
		PacketSize:     conf.PacketSize,
		DisconnectChan: disconnectChan,
	}, ctrl)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Run(ctx)
	}()
	waitForDisconnectSignal(ctx, disconnectChan)
	server.Stop()
	return <-errc
}

// waitForDisconnectSignal is a blocking function that waits for either
// an interrupt signal from the OS, for ctx to be done or for
// disconnectChan to be closed by the server when it stops serving.
func waitForDisconnectSignal(ctx context.Context, disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, interruptSignals...)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-ctx.Done():
	case <-disconnectChan:
	}
}

func archCmd(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, name := range arch.Names() {
			fmt.Fprintln(out, name)
		}
		return nil
	}
	a, ok := arch.ByName(args[0])
	if !ok {
		return fmt.Errorf("unknown architecture %q", args[0])
	}
	if targetXML {
		_, err := out.Write(a.TargetXML())
		return err
	}
	fmt.Fprint(out, a.Describe())
	return nil
}
