// Package cli implements the interactive operator console: realm
// status, live session tables, announcements, and kicks.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/events"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/telemetry"
)

// CLI provides the interactive operator console on stdin.
type CLI struct {
	cfg      *config.Config
	bus      *events.EventBus
	registry *session.Registry
	world    telemetry.WorldStats
	counters *telemetry.Counters

	startedAt time.Time
}

// NewCLI creates a console bound to the live registry.
func NewCLI(cfg *config.Config, bus *events.EventBus, registry *session.Registry, world telemetry.WorldStats, counters *telemetry.Counters) *CLI {
	return &CLI{
		cfg:       cfg,
		bus:       bus,
		registry:  registry,
		world:     world,
		counters:  counters,
		startedAt: time.Now(),
	}
}

// Start runs the read loop until quit or context cancellation.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nWorldgate console ready. Type 'help' for available commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("worldgate> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single console command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions", "who":
		c.printSessions()
	case "announce", "a":
		return c.cmdAnnounce(ctx, args)
	case "kick", "k":
		return c.cmdKick(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Worldgate...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  status              Show realm status and counters")
	fmt.Println("  sessions            List connected sessions")
	fmt.Println("  announce <text>     Broadcast a server-wide notice")
	fmt.Println("  kick <account>      Disconnect an account")
	fmt.Println("  quit                Shut down the server")
	fmt.Println("  help                Show this help message")
	fmt.Println()
}

// printStatus displays realm identity and running counters.
func (c *CLI) printStatus() {
	live, peak, total := c.registry.Stats()

	fmt.Printf("\n  Realm:          %s\n", c.cfg.Realm.Name)
	fmt.Printf("  Listen:         %s:%d\n", c.cfg.Realm.BindAddr, c.cfg.Realm.GamePort)
	fmt.Printf("  Uptime:         %s\n", time.Since(c.startedAt).Round(time.Second))
	fmt.Printf("  Sessions:       %d live / %d peak / %d total\n", live, peak, total)
	fmt.Printf("  Ticks:          %d\n", c.world.Ticks())
	fmt.Printf("  Packets:        %d\n", c.world.PacketsProcessed())

	if c.counters != nil {
		snap := c.counters.Snapshot()
		fmt.Printf("  Auth failures:  %d\n", snap["auth_failures"])
		fmt.Printf("  Kicks:          %d\n", snap["kicks"])
	}
	fmt.Println()
}

// printSessions displays connected sessions in a formatted table.
func (c *CLI) printSessions() {
	snapshot := c.registry.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("No sessions connected.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Account", "Player", "Level", "Zone", "Build", "Remote IP", "Security"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range snapshot {
		player, level, zone := "-", "-", "-"
		if s.Player != nil {
			player = s.Player.Name
			level = fmt.Sprintf("%d", s.Player.Level)
			zone = fmt.Sprintf("%d", s.Player.Zone)
		}
		tw.Append([]string{
			s.AccountName,
			player,
			level,
			zone,
			fmt.Sprintf("%d", s.Build),
			s.RemoteIP,
			s.Security.String(),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdAnnounce(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: announce <text>")
	}

	text := strings.Join(args, " ")
	c.bus.Emit(ctx, events.Event{
		Type:    events.EventAnnounce,
		Source:  "cli",
		Payload: events.AnnouncePayload{Text: text},
	})
	fmt.Printf("Announced: %s\n", text)
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <account>")
	}

	name := args[0]
	for _, s := range c.registry.Snapshot() {
		if strings.EqualFold(s.AccountName, name) {
			s.Kick("kicked by an operator")
			fmt.Printf("Kicked %s\n", s.AccountName)
			return nil
		}
	}
	return fmt.Errorf("no session for account %s", name)
}
