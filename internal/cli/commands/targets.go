// berth targets: manage the registered target hosts.
package commands

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/health"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/pkg/netutil"
	"github.com/f9-o/berth/pkg/pprint"
	"github.com/f9-o/berth/pkg/sshutil"
)

// NewTargetsCmd groups the target inventory commands.
func NewTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage registered targets",
		Long:  "Add, remove, list, inspect, test and trust the hosts containers are placed on.",
	}
	cmd.AddCommand(
		newTargetsAddCmd(),
		newTargetsRmCmd(),
		newTargetsLsCmd(),
		newTargetsInfoCmd(),
		newTargetsTestCmd(),
		newTargetsTrustCmd(),
	)
	return cmd
}

func newTargetsAddCmd() *cobra.Command {
	var (
		keyPath   string
		port      int
		privateIP string
	)

	cmd := &cobra.Command{
		Use:   "add <name> <user@host[:port]>",
		Short: "Register a new target",
		Args:  cobra.ExactArgs(2),
		Example: `  berth targets add web-01 ubuntu@203.0.113.11 --private-ip 10.0.0.11
  berth targets add build core@build.example.com --key ~/.ssh/id_ed25519`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			name := args[0]
			if !netutil.IsValidTargetName(name) {
				return fmt.Errorf("invalid target name %q", name)
			}
			user, hostPort := parseUserAtHost(args[1])
			host, port, err := netutil.SplitHostPort(hostPort, port)
			if err != nil {
				return err
			}
			if !netutil.IsValidPort(port) {
				return fmt.Errorf("invalid port %d", port)
			}

			info := v1.TargetInfo{
				Name: name,
				Port: port,
				Target: v1.Target{
					PrivateIPAddress: privateIP,
					IPAddress:        host,
					User:             user,
					IdentityFile:     keyPath,
				},
			}
			if err := remote.NewInventory(rt.State).Add(info); err != nil {
				return err
			}

			pprint.Success("Target %q registered (%s@%s)", name, user, info.Target.Address())
			pprint.Info("Run 'berth targets trust %s' to record the host key", name)
			pprint.Info("Run 'berth targets test %s' to verify connectivity", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "Path to the SSH private key (default: ssh.identity_file)")
	cmd.Flags().IntVar(&port, "port", sshutil.DefaultPort, "SSH port")
	cmd.Flags().StringVar(&privateIP, "private-ip", "", "Private address, preferred over the public one")
	return cmd
}

func newTargetsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			if err := remote.NewInventory(rt.State).Remove(args[0]); err != nil {
				return err
			}
			pprint.Success("Target %q removed", args[0])
			return nil
		},
	}
}

func newTargetsLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List registered targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			targets, err := remote.NewInventory(rt.State).List()
			if err != nil {
				return err
			}
			if rt.Flags.JSONOutput {
				return json.NewEncoder(os.Stdout).Encode(targets)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tUSER\tSTATUS\tLAST SEEN\tKEY TRUSTED")
			for _, t := range targets {
				lastSeen := "never"
				if !t.LastSeen.IsZero() {
					lastSeen = fmtDuration(time.Since(t.LastSeen)) + " ago"
				}
				trusted := "✗"
				if t.HostKeyKnown {
					trusted = "✓"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.Name, t.Target.Address(), t.Target.User,
					statusIcon(t.Status)+string(t.Status),
					lastSeen, trusted,
				)
			}
			return w.Flush()
		},
	}
}

func newTargetsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show the stored record of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			info, err := remote.NewInventory(rt.State).Get(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newTargetsTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Probe a target and log in over SSH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			inv := remote.NewInventory(rt.State)
			info, err := inv.Get(args[0])
			if err != nil {
				return err
			}

			pprint.Info("Testing %s (%s@%s)...", info.Name, info.Target.User, info.Target.Address())
			watcher := remote.NewWatcher(inv, health.TCPProbe(health.DefaultTimeout), rt.Log)
			if status := watcher.CheckOnce(cmd.Context(), info); status != v1.TargetOnline {
				return fmt.Errorf("%s does not accept connections on port %d", info.Target.Address(), portOr(info.Port))
			}

			ep := remote.Endpoint{
				Host:     info.Target.Address(),
				Port:     info.Port,
				User:     firstNonEmpty(info.Target.User, rt.Config.SSH.User, "root"),
				Identity: config.ExpandHome(firstNonEmpty(info.Target.IdentityFile, rt.Config.SSH.IdentityFile)),
			}
			pool := remote.NewPool(rt.Log, rt.Config.SSH.KnownHosts, inv.FingerprintFor)
			defer pool.Close()
			if err := pool.Check(cmd.Context(), ep); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			pprint.Success("Connection successful")
			return nil
		},
	}
}

func newTargetsTrustCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "trust <name>",
		Short: "Record the host key fingerprint of a target (enables strict verification)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			inv := remote.NewInventory(rt.State)
			info, err := inv.Get(args[0])
			if err != nil {
				return err
			}

			addr := net.JoinHostPort(info.Target.Address(), strconv.Itoa(portOr(info.Port)))
			pprint.Info("Gathering host key from %s...", addr)
			key, err := sshutil.GatherHostKey(addr, sshutil.ConnectTimeout)
			if err != nil {
				return fmt.Errorf("gather host key: %w", err)
			}

			fingerprint := sshutil.FingerprintMD5(key)
			pprint.KV("Fingerprint", fingerprint)
			pprint.KV("Type", key.Type())
			if !yes {
				fmt.Print("  Trust this key? [y/N] ")
				var answer string
				_, _ = fmt.Scanln(&answer)
				if !strings.EqualFold(answer, "y") {
					pprint.Warn("Aborted.")
					return nil
				}
			}

			if err := inv.Trust(args[0], fingerprint, sshutil.EncodeHostKey(info.Target.Address(), key)); err != nil {
				return err
			}
			pprint.Success("Host key for %q trusted", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Trust without prompting")
	return cmd
}

// parseUserAtHost splits "user@host" into its parts.
func parseUserAtHost(s string) (user, host string) {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

func portOr(p int) int {
	if p == 0 {
		return sshutil.DefaultPort
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func statusIcon(s v1.TargetStatus) string {
	if s == v1.TargetOnline {
		return "● "
	}
	return "○ "
}

func fmtDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
