// Package main provides the vcslog CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vcslog/internal/commitid"
	"vcslog/internal/config"
	"vcslog/internal/datapack"
	"vcslog/internal/gitio"
	"vcslog/internal/graph"
	"vcslog/internal/reach"
	"vcslog/internal/ref"
	"vcslog/internal/source"
)

var rootCmd = &cobra.Command{
	Use:   "vcslog",
	Short: "Commit graph queries over a Git history",
	Long: `vcslog loads a commit history from a Git repository, a YAML file or a
SQLite commit index, lays it out in rows and answers reachability queries.`,
	SilenceUsage: true,
}

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "Print every row with its parents and refs",
	RunE:  runRows,
}

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List refs and their kinds",
	RunE:  runRefs,
}

var fragmentsCmd = &cobra.Command{
	Use:   "fragments",
	Short: "List collapsible linear runs of commits",
	RunE:  runFragments,
}

var ancestorsCmd = &cobra.Command{
	Use:   "ancestors <rev>",
	Short: "List a commit and its ancestors in breadth-first order",
	Args:  cobra.ExactArgs(1),
	RunE:  runAncestors,
}

var tipsCmd = &cobra.Command{
	Use:   "tips <rev>",
	Short: "List the branch tips that contain a commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runTips,
}

var commonCmd = &cobra.Command{
	Use:   "common <rev> <rev>",
	Short: "Find a common ancestor of two commits",
	Args:  cobra.ExactArgs(2),
	RunE:  runCommon,
}

var sameBranchCmd = &cobra.Command{
	Use:   "same-branch <rev> <rev>",
	Short: "Report whether one commit is an ancestor of the other",
	Args:  cobra.ExactArgs(2),
	RunE:  runSameBranch,
}

var ancestorOfCmd = &cobra.Command{
	Use:   "ancestor-of <ancestor> <child>",
	Short: "Report whether a commit is a proper ancestor of another",
	Args:  cobra.ExactArgs(2),
	RunE:  runAncestorOf,
}

var rebasePlanCmd = &cobra.Command{
	Use:   "rebase-plan <new-base> <head>",
	Short: "List the commits of head down to where it meets new-base",
	Args:  cobra.ExactArgs(2),
	RunE:  runRebasePlan,
}

var aboveBaseCmd = &cobra.Command{
	Use:   "above-base <base> <head>",
	Short: "List first-parent commits from head down to base",
	Args:  cobra.ExactArgs(2),
	RunE:  runAboveBase,
}

var extendCmd = &cobra.Command{
	Use:   "extend <n>",
	Short: "Load up to n more commits below a --max-commits window and append them",
	Long: `extend loads the history like every other command, then follows the
commits that were cut off by --max-commits breadth-first, appends up to n of
them to the loaded graph and prints the rows they occupy.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtend,
}

var (
	repoPath   string
	yamlPath   string
	sqlitePath string
	configPath string
	maxCommits int
	logLevel   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&repoPath, "repo", ".", "Path to the Git repository")
	flags.StringVar(&yamlPath, "yaml", "", "Load history from a YAML file instead of Git")
	flags.StringVar(&sqlitePath, "sqlite", "", "Load history from a SQLite commit index instead of Git")
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.IntVar(&maxCommits, "max-commits", -1, "Maximum commits to load from Git (0 for all)")
	flags.StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(rowsCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(fragmentsCmd)
	rootCmd.AddCommand(ancestorsCmd)
	rootCmd.AddCommand(tipsCmd)
	rootCmd.AddCommand(commonCmd)
	rootCmd.AddCommand(sameBranchCmd)
	rootCmd.AddCommand(ancestorOfCmd)
	rootCmd.AddCommand(rebasePlanCmd)
	rootCmd.AddCommand(aboveBaseCmd)
	rootCmd.AddCommand(extendCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if maxCommits >= 0 {
		cfg.MaxCommits = maxCommits
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

// session is a loaded data pack and, when it was loaded from Git, the
// repository and options used.
type session struct {
	pack *datapack.DataPack
	repo *gitio.Repository
	opts gitio.Options
}

// resolve finds the node named by rev; see resolveNode.
func (s *session) resolve(rev string) (graph.Node, error) {
	return resolveNode(s.pack, s.repo, rev)
}

// loadSession loads the selected history and builds a data pack from it.
func loadSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := cfg.Logger()

	s := &session{}
	var (
		commits []graph.Commit
		refs    []ref.Ref
	)
	switch {
	case yamlPath != "" && sqlitePath != "":
		return nil, errors.New("--yaml and --sqlite are mutually exclusive")
	case yamlPath != "":
		commits, refs, err = source.LoadYAML(yamlPath, cfg.Rules)
	case sqlitePath != "":
		commits, refs, err = source.LoadSQLite(ctx, sqlitePath, cfg.Rules)
	default:
		s.repo, err = gitio.Open(repoPath)
		if err != nil {
			return nil, err
		}
		s.opts = gitio.Options{
			Limit:  cfg.MaxCommits,
			Rules:  cfg.Rules,
			Logger: log,
		}
		commits, refs, err = s.repo.LoadHistory(ctx, s.opts)
	}
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	s.pack, err = datapack.Build(commits, refs, datapack.Config{
		Logger:    log,
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// extend loads up to limit commits below the pack's fake nodes, appends
// them and refreshes the refs. It returns the commits appended.
func (s *session) extend(ctx context.Context, limit int) ([]graph.Commit, error) {
	if s.repo == nil {
		return nil, errors.New("extending the history needs a Git repository")
	}

	var frontier []commitid.Hash
	for _, n := range s.pack.Graph().Nodes() {
		if n.Fake {
			frontier = append(frontier, n.Original)
		}
	}
	if len(frontier) == 0 {
		return nil, nil
	}

	opts := s.opts
	opts.Limit = limit
	commits, err := s.repo.LoadFrom(ctx, frontier, func(h commitid.Hash) bool {
		_, ok := s.pack.NodeByHash(h)
		return ok
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("loading older commits: %w", err)
	}
	if err := s.pack.AppendCommits(commits); err != nil {
		return nil, err
	}

	refs, err := s.repo.LoadRefs(s.opts)
	if err != nil {
		return nil, err
	}
	s.pack.UpdateRefs(refs)
	return commits, nil
}

// describe renders a node as its short hash, marking placeholders.
func describe(n graph.Node) string {
	if n.Fake {
		return "(" + commitid.Short(n.Original) + ")"
	}
	return commitid.Short(n.Hash)
}

func printNodes(nodes []graph.Node) {
	for _, n := range nodes {
		fmt.Printf("%6d  %s\n", n.Row, describe(n))
	}
}

func runRows(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd.Context())
	if err != nil {
		return err
	}
	pack := s.pack

	rows, err := pack.Fragments().UnconcealedRows()
	if err != nil {
		return err
	}
	shown := make(map[int]bool, len(rows))
	for _, row := range rows {
		shown[row] = true
	}

	for _, n := range pack.Graph().Nodes() {
		parents := make([]string, len(n.Down))
		for i, e := range n.Down {
			parents[i] = fmt.Sprint(e.Down)
		}
		var names []string
		if !n.Fake {
			for _, r := range pack.Refs().RefsOf(n.Hash) {
				names = append(names, r.Name)
			}
		}

		marker := " "
		if shown[n.Row] {
			marker = "*"
		}
		line := fmt.Sprintf("%6d %s %-10s -> [%s]", n.Row, marker, describe(n), strings.Join(parents, " "))
		if len(names) > 0 {
			line += "  (" + strings.Join(names, ", ") + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runRefs(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd.Context())
	if err != nil {
		return err
	}
	pack := s.pack
	for _, r := range pack.Refs().All() {
		row := pack.RowByHash(r.Hash)
		fmt.Printf("%-7s %s %6d  %s\n", r.Kind, commitid.Short(r.Hash), row, r.Name)
	}
	return nil
}

func runFragments(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd.Context())
	if err != nil {
		return err
	}
	pack := s.pack
	fragments, err := pack.Fragments().Fragments()
	if err != nil {
		return err
	}
	for _, f := range fragments {
		fmt.Printf("%d..%d  %d commits between rows %d and %d\n",
			f.Rows[0], f.Rows[len(f.Rows)-1], len(f.Rows), f.Upper, f.Lower)
	}
	fmt.Printf("%d fragments\n", len(fragments))
	return nil
}

func runAncestors(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd.Context())
	if err != nil {
		return err
	}
	pack := s.pack
	start, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	nodes, err := pack.Reach().Ancestors(cmd.Context(), start, nil)
	if err != nil {
		return err
	}
	printNodes(nodes)
	return nil
}

func runTips(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd.Context())
	if err != nil {
		return err
	}
	pack := s.pack
	n, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	tips, err := pack.UpRefNodes(cmd.Context(), n)
	if err != nil {
		return err
	}
	for _, tip := range tips {
		r, _ := pack.FindRefOfNode(tip)
		fmt.Printf("%6d  %s  %s\n", tip.Row, describe(tip), r.Name)
	}
	return nil
}

func runCommon(cmd *cobra.Command, args []string) error {
	pack, a, b, err := loadPair(cmd, args)
	if err != nil {
		return err
	}
	common, ok, err := pack.Reach().CommonParent(cmd.Context(), a, b)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no common ancestor")
		return nil
	}
	printNodes([]graph.Node{common})
	return nil
}

func runSameBranch(cmd *cobra.Command, args []string) error {
	pack, a, b, err := loadPair(cmd, args)
	if err != nil {
		return err
	}
	same, err := pack.Reach().IsSameBranch(cmd.Context(), a, b)
	if err != nil {
		return err
	}
	fmt.Println(same)
	return nil
}

func runAncestorOf(cmd *cobra.Command, args []string) error {
	pack, ancestor, child, err := loadPair(cmd, args)
	if err != nil {
		return err
	}
	is, err := pack.Reach().IsAncestorOf(cmd.Context(), ancestor, child)
	if err != nil {
		return err
	}
	fmt.Println(is)
	return nil
}

func runRebasePlan(cmd *cobra.Command, args []string) error {
	pack, newBase, head, err := loadPair(cmd, args)
	if err != nil {
		return err
	}
	nodes, err := pack.Reach().CommitsDownToCommon(cmd.Context(), newBase, head)
	if err != nil {
		return err
	}
	printNodes(nodes)
	return nil
}

func runAboveBase(cmd *cobra.Command, args []string) error {
	pack, base, head, err := loadPair(cmd, args)
	if err != nil {
		return err
	}
	nodes, err := pack.Reach().CommitsInBranchAboveBase(base, head)
	var notReachable *reach.BaseNotReachableError
	if errors.As(err, &notReachable) {
		return fmt.Errorf("%s is not on the first-parent line of %s",
			commitid.Short(notReachable.Base), commitid.Short(notReachable.Head))
	}
	if err != nil {
		return err
	}
	printNodes(nodes)
	return nil
}

func loadPair(cmd *cobra.Command, args []string) (*datapack.DataPack, graph.Node, graph.Node, error) {
	s, err := loadSession(cmd.Context())
	if err != nil {
		return nil, graph.Node{}, graph.Node{}, err
	}
	a, err := s.resolve(args[0])
	if err != nil {
		return nil, graph.Node{}, graph.Node{}, err
	}
	b, err := s.resolve(args[1])
	if err != nil {
		return nil, graph.Node{}, graph.Node{}, err
	}
	return s.pack, a, b, nil
}

func runExtend(cmd *cobra.Command, args []string) error {
	limit, err := strconv.Atoi(args[0])
	if err != nil || limit <= 0 {
		return fmt.Errorf("invalid commit count %q", args[0])
	}
	s, err := loadSession(cmd.Context())
	if err != nil {
		return err
	}

	before := s.pack.Graph().RowCount()
	commits, err := s.extend(cmd.Context(), limit)
	if err != nil {
		return err
	}

	nodes := make([]graph.Node, 0, len(commits))
	for _, c := range commits {
		if n, ok := s.pack.NodeByHash(c.Hash); ok {
			nodes = append(nodes, n)
		}
	}
	printNodes(nodes)
	fmt.Printf("appended %d commits, %d rows -> %d\n", len(commits), before, s.pack.Graph().RowCount())
	return nil
}
