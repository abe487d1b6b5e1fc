package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"habitkeeper/internal/config"
	"habitkeeper/internal/ipc"
)

var (
	configPath string
	dbPath     string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "habit-cli",
	Short: "CLI tool to interact with the habitkeeper daemon",
	Long:  `A command-line interface to start, pause and complete habits through the running habitkeeper daemon via its Unix socket.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if dbPath != "" && socketPath != "" {
			return
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		if dbPath == "" {
			dbPath = cfg.DatabasePath
		}
		if socketPath == "" {
			socketPath = cfg.SocketPath
		}
	},
}

// --- Client Helper Functions ---

// sendCommand exits the process if the daemon is unreachable or refuses
// the command.
func sendCommand(cmd ipc.Command) ipc.Response {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		log.Fatalf("Error connecting to daemon socket (%s): %v\nIs the habitkeeper daemon running?", socketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(15 * time.Second))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		log.Fatalf("Error sending command: %v", err)
	}

	var resp ipc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		log.Fatalf("Error receiving response: %v", err)
	}

	if !resp.Success {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	return resp
}

// decodeData converts the generic Data of a response into out.
func decodeData(data interface{}, out interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Fatalf("Error reading response data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Fatalf("Error reading response data: %v", err)
	}
}

func printSuccess(resp ipc.Response) {
	if resp.Message != "" {
		color.New(color.FgGreen).Println(resp.Message)
	}
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the habitkeeper daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		printSuccess(sendCommand(ipc.Command{Name: ipc.CmdPing}))
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show messages the daemon produced since the last call",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdEvents})
		var data ipc.EventsData
		decodeData(resp.Data, &data)
		if len(data.Events) == 0 {
			fmt.Println("No new messages.")
			return
		}
		printUIEvents(data.Events)
	},
}

var clearErrorCmd = &cobra.Command{
	Use:   "clear-error",
	Short: "Dismiss the last timer error",
	Run: func(cmd *cobra.Command, args []string) {
		printSuccess(sendCommand(ipc.Command{Name: ipc.CmdClearError}))
	},
}

var clearPausedCmd = &cobra.Command{
	Use:   "clear-paused <habit>",
	Short: "Forget that a habit is paused",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printSuccess(sendCommand(ipc.Command{Name: ipc.CmdClearPaused, Args: ipc.HabitArgs{HabitID: args[0]}}))
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the habitkeeper database file (default: loaded from config)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Path to the daemon socket (default: loaded from config)")

	addTimerCommands(rootCmd)
	addHabitCommands(rootCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(clearErrorCmd)
	rootCmd.AddCommand(clearPausedCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
