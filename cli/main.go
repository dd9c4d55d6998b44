package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"ytdash"
	"ytdash/config"
	"ytdash/internal/logging"
	"ytdash/model"
	"ytdash/refresh"
	"ytdash/stats"
	"ytdash/youtube"
)

type command func(ctx context.Context, d *ytdash.Dashboard, args []string) error

var commands = map[string]command{
	"add":       cmdAdd,
	"remove":    cmdRemove,
	"move":      cmdMove,
	"folder":    cmdFolder,
	"list":      cmdList,
	"period":    cmdPeriod,
	"refresh":   cmdRefresh,
	"stats":     cmdStats,
	"videos":    cmdVideos,
	"analytics": cmdAnalytics,
	"share":     cmdShare,
	"import":    cmdImport,
	"key":       cmdKey,
}

var usages = map[string]string{
	"add":       "add [-folder id] <handle|channel-id|url>",
	"remove":    "remove <channel-id>",
	"move":      "move <channel-id> <folder-id>",
	"folder":    "folder add <name> | rename <id> <name> | delete <id>",
	"list":      "list",
	"period":    "period [7|30]",
	"refresh":   "refresh [-cached]",
	"stats":     "stats [-folder id] [-channel id]",
	"videos":    "videos [-folder id] [-channel id] [-sort views_desc] [-shorts]",
	"analytics": "analytics [-token oauth-token] [-force]",
	"share":     "share",
	"import":    "import <share-url>",
	"key":       "key <api-key>",
}

var order = []string{"add", "remove", "move", "folder", "list", "period", "refresh", "stats", "videos", "analytics", "share", "import", "key"}

func main() {
	shareURL := flag.String("share", "", "Open a shared dashboard link before running the command")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}
	name := flag.Arg(0)
	if name == "help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := run(cmd, *shareURL, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "ytdash - YouTube channel dashboard\n\nUsage:\n  ytdash [-share url] <command> [flags] [args]\n\nCommands:\n")
	for _, name := range order {
		fmt.Fprintf(os.Stderr, "  ytdash %s\n", usages[name])
	}
	fmt.Fprintf(os.Stderr, `
Examples:
  ytdash key AIza...                       # Save a Data API key
  ytdash add @GoogleDevelopers             # Register a channel
  ytdash folder add Tech                   # Create a folder
  ytdash videos -sort likes_desc           # Long-form videos by likes
  ytdash period 7                          # Switch to the last 7 days
  ytdash -share 'https://...?share=...' list
`)
}

func run(cmd command, shareURL string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Console(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d, err := ytdash.Open(ctx, ytdash.Options{
		Config:   cfg,
		Location: shareURL,
		Logger:   logger,
		Reauthenticate: func(context.Context) {
			fmt.Fprintln(os.Stderr, "The analytics token was rejected. Sign in again to obtain a new one:")
			if cfg.OAuthClientID != "" {
				fmt.Fprintf(os.Stderr, "  OAuth client: %s\n", cfg.OAuthClientID)
			} else {
				fmt.Fprintln(os.Stderr, "  set oauth_client_id in the config to enable sign-in")
			}
			fmt.Fprintln(os.Stderr, "  then run: ytdash analytics -token <access-token>")
		},
	})
	if err != nil {
		return err
	}
	d.Toasts.Subscribe(func(t model.Toast) {
		mark := "ok"
		if t.Kind == model.ToastError {
			mark = "!!"
		}
		fmt.Fprintf(os.Stderr, "[%s] %s\n", mark, t.Message)
	})

	err = cmd(ctx, d, args)
	if cerr := d.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// describe turns known failures into guidance for the terminal.
func describe(err error) string {
	var (
		quota *youtube.QuotaExceededError
		dup   *ytdash.DuplicateChannelError
		nf    *youtube.NotFoundError
	)
	switch {
	case errors.Is(err, ytdash.ErrNoCredential):
		return "no API key configured; run `ytdash key <api-key>` or set YTDASH_API_KEY"
	case errors.As(err, &quota):
		return quota.Error()
	case errors.As(err, &dup):
		return "channel is already registered"
	case errors.As(err, &nf):
		return fmt.Sprintf("no channel found for %q", nf.Identifier)
	default:
		return err.Error()
	}
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytdash %s\n\nFlags:\n", usages[name])
		fs.PrintDefaults()
	}
	return fs
}

func needArgs(fs *flag.FlagSet, n int) ([]string, error) {
	if fs.NArg() < n {
		fs.Usage()
		return nil, fmt.Errorf("%s: expected %d argument(s)", fs.Name(), n)
	}
	return fs.Args(), nil
}

func cmdAdd(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("add")
	folder := fs.String("folder", "", "Folder id (defaults to the first folder)")
	fs.Parse(args)
	argv, err := needArgs(fs, 1)
	if err != nil {
		return err
	}

	ch, err := d.Refresh.AddChannel(ctx, argv[0], *folder)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", ch.ID, ch.Title, ch.FolderID)
	return nil
}

func cmdRemove(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("remove")
	fs.Parse(args)
	argv, err := needArgs(fs, 1)
	if err != nil {
		return err
	}
	return d.Refresh.RemoveChannel(ctx, argv[0])
}

func cmdMove(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("move")
	fs.Parse(args)
	argv, err := needArgs(fs, 2)
	if err != nil {
		return err
	}
	return d.Refresh.MoveChannel(ctx, argv[0], argv[1])
}

func cmdFolder(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("folder")
	fs.Parse(args)
	argv, err := needArgs(fs, 2)
	if err != nil {
		return err
	}

	switch argv[0] {
	case "add":
		f, err := d.Store.AddFolder(ctx, strings.Join(argv[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", f.ID, f.Name)
		return nil
	case "rename":
		if len(argv) < 3 {
			fs.Usage()
			return errors.New("folder rename: expected <id> <name>")
		}
		return d.Store.RenameFolder(ctx, argv[1], strings.Join(argv[2:], " "))
	case "delete":
		return d.Store.DeleteFolder(ctx, argv[1])
	default:
		fs.Usage()
		return fmt.Errorf("folder: unknown action %q", argv[0])
	}
}

func cmdList(_ context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("list")
	fs.Parse(args)

	groups := d.Store.Groups()
	if len(d.Store.Snapshot().Channels) == 0 {
		fmt.Println("No channels registered.")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tCHANNEL ID\tTITLE\tSUBSCRIBERS")
	for _, g := range groups {
		label := fmt.Sprintf("%s (%s)", g.Folder.Name, g.Folder.ID)
		if g.Folder.ID == "" {
			label = g.Folder.Name
		}
		if len(g.Channels) == 0 {
			fmt.Fprintf(w, "%s\t\t\t\n", label)
			continue
		}
		for _, ch := range g.Channels {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, ch.ID, truncate(ch.Title, 40), ch.SubscriberCount)
		}
	}
	return w.Flush()
}

func cmdPeriod(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("period")
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Println(d.Store.Snapshot().Period)
		return nil
	}

	p, err := model.ParsePeriod(fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = d.Refresh.SetPeriod(ctx, p)
	return err
}

func cmdRefresh(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("refresh")
	cached := fs.Bool("cached", false, "Serve the cached videos when they are still fresh")
	fs.Parse(args)

	res, err := d.Refresh.RefreshVideos(ctx, !*cached)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s (%s), %d videos\n", res.Outcome, res.Decision.Reason, len(d.Store.Snapshot().Videos))
	return nil
}

// selectScope points the dashboard at a folder or channel and brings the
// videos up to date, serving the cache when it is fresh.
func selectScope(ctx context.Context, d *ytdash.Dashboard, folder, channel string) error {
	switch {
	case channel != "":
		d.Store.SelectChannel(channel)
	case folder != "":
		d.Store.SelectFolder(folder)
	}
	_, err := d.Refresh.Handle(ctx, refresh.ViewSwitched)
	return err
}

func cmdStats(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("stats")
	folder := fs.String("folder", "", "Limit to one folder")
	channel := fs.String("channel", "", "Limit to one channel")
	fs.Parse(args)

	if err := selectScope(ctx, d, *folder, *channel); err != nil {
		return err
	}
	snap := d.Store.Snapshot()
	videos := d.Store.ScopedVideos()
	long := stats.LongForm(videos)
	sum := stats.Summarize(long)

	var ch *model.Channel
	for i := range snap.Channels {
		if snap.Channels[i].ID == snap.Selection.ChannelID {
			ch = &snap.Channels[i]
		}
	}
	quick := stats.ForChannel(videos, ch, time.Now())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Period:\tlast %d days\n", snap.Period.Days())
	fmt.Fprintf(w, "Videos:\t%d (%d shorts excluded)\n", sum.Count, len(videos)-sum.Count)
	fmt.Fprintf(w, "Avg views:\t%d\n", sum.AvgViews)
	fmt.Fprintf(w, "Avg likes:\t%d\n", sum.AvgLikes)
	fmt.Fprintf(w, "Avg comments:\t%d\n", sum.AvgComments)
	fmt.Fprintf(w, "Views (7d):\t%d (%+.1f%%)\n", quick.Views7d, quick.GrowthRate)
	fmt.Fprintf(w, "Uploads:\t%s\n", quick.UploadFrequency)
	fmt.Fprintf(w, "Avg length:\t%s\n", stats.FormatDuration(quick.AvgDuration))
	if ch != nil {
		fmt.Fprintf(w, "Subscribers:\t%d\n", quick.Subscribers)
	}
	if !snap.LastFetchedAt.IsZero() {
		fmt.Fprintf(w, "Updated:\t%s\n", snap.LastFetchedAt.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	top := stats.TopByViews(long, 5)
	if len(top) == 0 {
		return nil
	}
	fmt.Println("\nTop videos:")
	return printVideos(top)
}

func cmdVideos(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("videos")
	folder := fs.String("folder", "", "Limit to one folder")
	channel := fs.String("channel", "", "Limit to one channel")
	sortBy := fs.String("sort", string(stats.DefaultSort), "Sort order, e.g. views_desc, likes_asc, date_desc")
	shorts := fs.Bool("shorts", false, "Include short-form videos")
	fs.Parse(args)

	opt, err := stats.ParseSortOption(*sortBy)
	if err != nil {
		return err
	}
	if err := selectScope(ctx, d, *folder, *channel); err != nil {
		return err
	}

	videos := d.Store.ScopedVideos()
	if !*shorts {
		videos = stats.LongForm(videos)
	}
	if len(videos) == 0 {
		fmt.Println("No videos found.")
		return nil
	}
	if err := printVideos(stats.Sort(videos, opt)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nTotal: %d videos\n", len(videos))
	return nil
}

func printVideos(videos []model.Video) error {
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tTITLE\tCHANNEL\tPUBLISHED\tVIEWS\tLIKES\tCOMMENTS\tENGAGEMENT\tVIEWS/H")
	for _, v := range videos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.2f%%\t%d\n",
			v.ID,
			truncate(v.Title, 50),
			truncate(v.ChannelTitle, 20),
			v.PublishedAt.Local().Format(time.DateOnly),
			v.ViewCount,
			v.LikeCount,
			v.CommentCount,
			stats.EngagementRate(v),
			stats.ViewsPerHour(v, now),
		)
	}
	return w.Flush()
}

func cmdAnalytics(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("analytics")
	token := fs.String("token", "", "OAuth access token with the yt-analytics scope")
	force := fs.Bool("force", false, "Fetch even when the cached report is fresh")
	fs.Parse(args)

	var err error
	switch {
	case *token != "":
		_, err = d.Refresh.SetAccessToken(ctx, *token)
	default:
		d.Store.SetView(model.ViewAnalytics)
		_, err = d.Refresh.RefreshAnalytics(ctx, *force)
	}
	if err != nil {
		return err
	}

	snap := d.Store.Snapshot()
	if snap.AccessToken == "" {
		return errors.New("analytics needs an access token; pass -token or set YTDASH_ACCESS_TOKEN")
	}
	sum := stats.SummarizeAnalytics(snap.Analytics)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Views:\t%d\n", sum.TotalViews)
	fmt.Fprintf(w, "Watch time:\t%.1f h\n", sum.TotalWatchTimeHours)
	fmt.Fprintf(w, "Subscribers gained:\t%d\n", sum.TotalSubscribersGained)
	fmt.Fprintf(w, "Estimated revenue:\t$%.2f\n\n", sum.TotalRevenue)
	fmt.Fprintln(w, "DATE\tVIEWS\tMINUTES\tAVG DURATION\tSUBS\tREVENUE")
	for _, p := range snap.Analytics {
		fmt.Fprintf(w, "%s\t%d\t%d\t%ds\t%d\t%.2f\n",
			p.Date, p.Views, p.EstimatedMinutesWatched, p.AverageViewDuration, p.SubscribersGained, p.EstimatedRevenue)
	}
	return w.Flush()
}

func cmdShare(_ context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("share")
	fs.Parse(args)

	link, err := d.ShareLink()
	if err != nil {
		return err
	}
	fmt.Println(link)
	return nil
}

func cmdImport(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("import")
	fs.Parse(args)
	argv, err := needArgs(fs, 1)
	if err != nil {
		return err
	}
	return d.Import(ctx, argv[0])
}

func cmdKey(ctx context.Context, d *ytdash.Dashboard, args []string) error {
	fs := newFlags("key")
	fs.Parse(args)
	argv, err := needArgs(fs, 1)
	if err != nil {
		return err
	}
	return d.SetCredential(ctx, argv[0])
}

// truncate shortens s to maxLen runes, ending in "..." when cut.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}
