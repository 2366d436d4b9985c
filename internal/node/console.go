package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Console errors.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrWrongRole      = errors.New("command not available for this role")
	ErrNoRecipient    = errors.New("no connected peer to send to")
)

// Default token counts of mint and send when no count is given.
const (
	defaultMintCount = 20
	defaultSendCount = 2
)

const helpText = `Commands:
  info                        Show node status
  peers                       List connected peers
  mint [N] [pubkey]           Mint N tokens to pubkey or the first peer (verifier)
  offenders                   List double spenders by offense count (verifier)
  send [N] [pubkey] [pool]    Send N tokens from pool (verified|unverified) (wallet)
  reconcile                   Submit unverified tokens to the verifier (wallet)
  help                        Show this message
  stop                        Shut down`

// RunConsole executes commands read line by line from in until it is
// exhausted, ctx ends or a stop command is read.
func (n *Node) RunConsole(ctx context.Context, in io.Reader, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd := strings.ToLower(strings.TrimSpace(line))
			if cmd == "stop" || cmd == "quit" || cmd == "exit" {
				return
			}
			res, err := n.Exec(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			if res != "" {
				fmt.Fprintln(out, res)
			}
		}
	}
}

// Exec runs one console command line and returns its output.
func (n *Node) Exec(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return "", nil
	}
	args := fields[1:]

	switch fields[0] {
	case "help":
		return helpText, nil
	case "info":
		return n.info(), nil
	case "peers":
		return n.peers(), nil
	case "mint", "create":
		if n.authority == nil {
			return "", ErrWrongRole
		}
		return n.mint(ctx, args)
	case "offenders":
		if n.authority == nil {
			return "", ErrWrongRole
		}
		return n.offenders()
	case "send":
		if n.wallet == nil {
			return "", ErrWrongRole
		}
		return n.send(ctx, args)
	case "reconcile":
		if n.wallet == nil {
			return "", ErrWrongRole
		}
		pending := n.wallet.Balance().Unverified
		if err := n.wallet.Reconcile(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Submitted %d tokens", pending), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
}

func (n *Node) info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "role:      %s\n", n.cfg.Role)
	fmt.Fprintf(&b, "network:   %s\n", n.cfg.Network)
	fmt.Fprintf(&b, "pubkey:    %s\n", n.PublicKey())
	if n.p2pNode != nil {
		fmt.Fprintf(&b, "peer id:   %s\n", n.p2pNode.ID())
		fmt.Fprintf(&b, "peers:     %d (%d with cash keys)\n", n.p2pNode.PeerCount(), n.p2pNode.KnownKeys())
	}
	if n.authority != nil {
		s := n.authority.Stats()
		fmt.Fprintf(&b, "tokens:    %d\n", s.Tokens)
		fmt.Fprintf(&b, "minted:    %d\n", s.Minted)
		fmt.Fprintf(&b, "checked:   %d\n", s.Checkpointed)
		fmt.Fprintf(&b, "rejected:  %d\n", s.Rejected)
		fmt.Fprintf(&b, "doubles:   %d", s.DoubleSpends)
	}
	if n.wallet != nil {
		bal := n.wallet.Balance()
		fmt.Fprintf(&b, "verifier:  %s\n", crypto.Fingerprint(n.verifier).Short())
		fmt.Fprintf(&b, "balance:   %d (%d verified, %d unverified)", bal.Total(), bal.Verified, bal.Unverified)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (n *Node) peers() string {
	if n.p2pNode == nil {
		return "P2P disabled"
	}
	list := n.p2pNode.PeerList()
	if len(list) == 0 {
		return "No peers"
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectedAt.Before(list[j].ConnectedAt) })

	var b strings.Builder
	for _, p := range list {
		key := "-"
		if !p.CashKey.IsZero() {
			key = crypto.Fingerprint(p.CashKey).Short()
			if p.CashKey == n.verifier {
				key += " (verifier)"
			}
		}
		fmt.Fprintf(&b, "%s  %-6s  %s\n", p.ID, p.Source, key)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (n *Node) mint(ctx context.Context, args []string) (string, error) {
	count, args, err := countArg(args, defaultMintCount)
	if err != nil {
		return "", err
	}
	to, err := n.recipient(args)
	if err != nil {
		return "", err
	}
	tokens, err := n.authority.MintBatch(ctx, to, count)
	if err != nil {
		return "", fmt.Errorf("minted %d tokens: %w", len(tokens), err)
	}
	return fmt.Sprintf("Minted %d tokens to %s", len(tokens), crypto.Fingerprint(to).Short()), nil
}

func (n *Node) offenders() (string, error) {
	counts, err := n.ledger.Offenders()
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "No double spends recorded", nil
	}
	keys := make([]types.PublicKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s  %d\n", k, counts[k])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (n *Node) send(ctx context.Context, args []string) (string, error) {
	count, args, err := countArg(args, defaultSendCount)
	if err != nil {
		return "", err
	}
	pool := wallet.Verified
	if len(args) > 0 {
		if p, err := wallet.ParsePool(args[len(args)-1]); err == nil {
			pool = p
			args = args[:len(args)-1]
		}
	}
	to, err := n.recipient(args)
	if err != nil {
		return "", err
	}
	if err := n.wallet.Spend(ctx, to, count, pool); err != nil {
		return "", err
	}
	bal := n.wallet.Balance()
	return fmt.Sprintf("Sent %d tokens to %s, balance %d", count, crypto.Fingerprint(to).Short(), bal.Total()), nil
}

// countArg pops a leading token count.
func countArg(args []string, def int) (int, []string, error) {
	if len(args) == 0 {
		return def, args, nil
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		if len(args[0]) == 2*types.PublicKeySize {
			return def, args, nil
		}
		return 0, nil, fmt.Errorf("invalid count %q", args[0])
	}
	if count <= 0 {
		return 0, nil, fmt.Errorf("count must be positive")
	}
	return count, args[1:], nil
}

// recipient parses an explicit key or picks the first connected peer
// that is neither us nor the verifier.
func (n *Node) recipient(args []string) (types.PublicKey, error) {
	if len(args) > 0 {
		return parseKey(args[0])
	}
	if n.p2pNode == nil {
		return types.PublicKey{}, ErrNoRecipient
	}
	list := n.p2pNode.PeerList()
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectedAt.Before(list[j].ConnectedAt) })
	for _, p := range list {
		if p.CashKey.IsZero() || p.CashKey == n.PublicKey() {
			continue
		}
		if n.cfg.Role == config.RoleWallet && p.CashKey == n.verifier {
			continue
		}
		return p.CashKey, nil
	}
	return types.PublicKey{}, ErrNoRecipient
}
