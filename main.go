package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	settingsFile   string
	senderName     string
	decodoAPIKey   string
	decodoAdvanced bool
	proxiesPath    string
	cacheDB        string
	timeoutSeconds float64
	logLevel       string

	pagYear     int
	pagMonth    int
	pageSize    int
	fromDate    string
	toDate      string
	outputFile  string
	urlsFile    string
	outDir      string
	concurrency int
	bypassCache bool
)

var rootCmd = &cobra.Command{
	Use:   "medium-scraper",
	Short: "Paginate Medium tags and convert articles to Markdown",
	Long: `A Medium scraper that paginates tag archives and generates Markdown
from articles, using either direct requests or the Decodo Scraper API.
Supports concurrency, persistent response caching and optional proxies.`,
}

// runSettings loads the settings file and applies any flags the user set.
func runSettings(cmd *cobra.Command) (*Settings, error) {
	settings, err := loadSettings(settingsFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("sender") {
		settings.Sender = senderName
	}
	if decodoAPIKey != "" {
		settings.Decodo.APIKey = decodoAPIKey
	} else if settings.Decodo.APIKey == "" {
		settings.Decodo.APIKey = os.Getenv("DECODO_API_KEY")
	}
	if flags.Changed("advanced") {
		settings.Decodo.Advanced = decodoAdvanced
	}
	if flags.Changed("proxies") {
		settings.ProxiesFile = proxiesPath
	}
	if flags.Changed("cache-db") {
		settings.CachePath = cacheDB
	}
	if flags.Changed("timeout") {
		settings.TimeoutSeconds = timeoutSeconds
	}
	if flags.Changed("log-level") {
		settings.LogLevel = logLevel
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	initLogging(os.Stderr, settings.LogLevel)
	return settings, nil
}

// intFlagOr resolves a numeric option: an explicitly set flag wins, then the
// settings file, then the flag default.
func intFlagOr(cmd *cobra.Command, name string, flagValue, settingsValue int) int {
	if cmd.Flags().Changed(name) || settingsValue <= 0 {
		return flagValue
	}
	return settingsValue
}

// stringFlagOr is intFlagOr for string options.
func stringFlagOr(cmd *cobra.Command, name, flagValue, settingsValue string) string {
	if cmd.Flags().Changed(name) || settingsValue == "" {
		return flagValue
	}
	return settingsValue
}

// monthWindows resolves the CLI date selection into one or more (year,
// month) windows. With no selection at all, a single unfiltered window is
// returned.
func monthWindows() ([]monthWindow, error) {
	if fromDate != "" || toDate != "" {
		if fromDate == "" || toDate == "" {
			return nil, fmt.Errorf("--from-date and --to-date must be given together")
		}
		start, err := parseDate(fromDate)
		if err != nil {
			return nil, err
		}
		end, err := parseDate(toDate)
		if err != nil {
			return nil, err
		}
		var windows []monthWindow
		y, m := start.Year(), int(start.Month())
		for y < end.Year() || (y == end.Year() && m <= int(end.Month())) {
			windows = append(windows, monthWindow{Year: y, Month: m})
			if m == 12 {
				y, m = y+1, 1
			} else {
				m++
			}
		}
		return windows, nil
	}
	return []monthWindow{{Year: pagYear, Month: pagMonth}}, nil
}

// parseDate accepts YYYY-MM-DD or the literals today/now.
func parseDate(s string) (time.Time, error) {
	if v := strings.ToLower(s); v == "today" || v == "now" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expect YYYY-MM-DD or 'today')", s)
	}
	return t, nil
}

// paginateTag collects articles for every window in sequence.
func paginateTag(ctx context.Context, explorer *Explorer, tag string, windows []monthWindow, size int) ([]Article, error) {
	var articles []Article
	for _, w := range windows {
		items, err := explorer.ArticlesByTag(ctx, tag, w.Year, w.Month, size)
		if err != nil {
			return nil, err
		}
		articles = append(articles, items...)
	}
	return articles, nil
}

func newExplorer(sender RequestSender, settings *Settings) *Explorer {
	explorer := NewExplorer(sender)
	explorer.baseURL = settings.BaseURL
	explorer.maxRetries = settings.MaxRetries
	explorer.retryBackoff = settings.RetryBackoff()
	return explorer
}

var paginateCmd = &cobra.Command{
	Use:   "paginate <tag>",
	Short: "List articles for a tag as JSON (single month or date range)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := runSettings(cmd)
		if err != nil {
			return err
		}
		windows, err := monthWindows()
		if err != nil {
			return err
		}
		sender, err := settings.buildSender()
		if err != nil {
			return err
		}
		defer sender.Close()

		size := intFlagOr(cmd, "page-size", pageSize, settings.PageSize)
		articles, err := paginateTag(cmd.Context(), newExplorer(sender, settings), args[0], windows, size)
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(articles, "", "  ")
		if err != nil {
			return err
		}
		if outputFile != "" {
			return os.WriteFile(outputFile, encoded, 0o644)
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url ...]",
	Short: "Scrape URLs and save Markdown files plus a results manifest",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := runSettings(cmd)
		if err != nil {
			return err
		}
		urls := append([]string{}, args...)
		if urlsFile != "" {
			loaded, err := LoadURLs(urlsFile)
			if err != nil {
				return err
			}
			urls = append(urls, loaded...)
		}
		if len(urls) == 0 {
			return fmt.Errorf("no URLs provided: pass arguments or --urls-file")
		}

		sender, err := settings.buildSender()
		if err != nil {
			return err
		}
		defer sender.Close()

		results := ScrapeAll(cmd.Context(), urls, sender, &ScrapeOptions{
			Concurrency: intFlagOr(cmd, "concurrency", concurrency, settings.Concurrency),
			BypassCache: bypassCache,
			OnProgress:  DetailedProgress(),
		})
		_, err = SaveResults(stringFlagOr(cmd, "out-dir", outDir, settings.OutputDirectory), results)
		return err
	},
}

var scrapeTagCmd = &cobra.Command{
	Use:   "scrape-tag <tag>",
	Short: "Paginate a tag and scrape all of its posts to Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := runSettings(cmd)
		if err != nil {
			return err
		}
		windows, err := monthWindows()
		if err != nil {
			return err
		}
		sender, err := settings.buildSender()
		if err != nil {
			return err
		}
		defer sender.Close()

		size := intFlagOr(cmd, "page-size", pageSize, settings.PageSize)
		articles, err := paginateTag(cmd.Context(), newExplorer(sender, settings), args[0], windows, size)
		if err != nil {
			return err
		}
		var urls []string
		for _, a := range articles {
			if a.URL != "" {
				urls = append(urls, a.URL)
			}
		}
		if len(urls) == 0 {
			fmt.Fprintln(os.Stderr, "No URLs found")
			return nil
		}

		bar := NewProgressBar(50)
		results := ScrapeAll(cmd.Context(), urls, sender, &ScrapeOptions{
			Concurrency: intFlagOr(cmd, "concurrency", concurrency, settings.Concurrency),
			BypassCache: bypassCache,
			OnProgress:  bar.Update,
		})
		_, err = SaveResults(stringFlagOr(cmd, "out-dir", outDir, settings.OutputDirectory), results)
		return err
	},
}

var purgeCacheCmd = &cobra.Command{
	Use:   "purge-cache",
	Short: "Delete expired entries from the response cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := runSettings(cmd)
		if err != nil {
			return err
		}
		cache, err := OpenCache(settings.CachePath)
		if err != nil {
			return err
		}
		defer cache.Close()

		removed, err := cache.PurgeExpired()
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d expired entries from %s\n", removed, settings.CachePath)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsFile, "settings", "medium-scraper.yaml", "Path to the settings file")
	flags.StringVar(&senderName, "sender", "auto", "Request backend: auto | direct | decodo")
	flags.StringVar(&decodoAPIKey, "decodo-api-key", "", "Decodo API key (or DECODO_API_KEY)")
	flags.BoolVar(&decodoAdvanced, "advanced", false, "Decodo Advanced plan (adds headless rendering)")
	flags.StringVar(&proxiesPath, "proxies", "", "Path to a proxies file (JSON array or newline-delimited)")
	flags.StringVar(&cacheDB, "cache-db", "cache.db", "SQLite cache DB path (persistent between runs)")
	flags.Float64Var(&timeoutSeconds, "timeout", 30, "Request timeout in seconds")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug | info | warn | error")

	paginateCmd.Flags().IntVar(&pagYear, "year", 0, "Target year (0 means no filter)")
	paginateCmd.Flags().IntVar(&pagMonth, "month", 0, "Target month 1-12 (0 means no filter)")
	paginateCmd.Flags().IntVar(&pageSize, "page-size", 50, "Number of posts per request")
	paginateCmd.Flags().StringVar(&fromDate, "from-date", "", "Start date YYYY-MM-DD or 'today'")
	paginateCmd.Flags().StringVar(&toDate, "to-date", "", "End date YYYY-MM-DD or 'today'")
	paginateCmd.Flags().StringVar(&outputFile, "output", "", "Output JSON file; prints to stdout if omitted")

	scrapeCmd.Flags().StringVar(&urlsFile, "urls-file", "", "URLs input: newline-delimited text or paginate JSON")
	scrapeCmd.Flags().StringVar(&outDir, "out-dir", "out", "Directory for Markdown files and the manifest")
	scrapeCmd.Flags().IntVar(&concurrency, "concurrency", 10, "Maximum concurrent requests")
	scrapeCmd.Flags().BoolVar(&bypassCache, "bypass-cache", false, "Skip cache lookups and fetch fresh")

	scrapeTagCmd.Flags().IntVar(&pagYear, "year", 0, "Target year (0 means no filter)")
	scrapeTagCmd.Flags().IntVar(&pagMonth, "month", 0, "Target month 1-12 (0 means no filter)")
	scrapeTagCmd.Flags().IntVar(&pageSize, "page-size", 50, "Number of posts per request")
	scrapeTagCmd.Flags().StringVar(&fromDate, "from-date", "", "Start date YYYY-MM-DD or 'today'")
	scrapeTagCmd.Flags().StringVar(&toDate, "to-date", "", "End date YYYY-MM-DD or 'today'")
	scrapeTagCmd.Flags().StringVar(&outDir, "out-dir", "out", "Directory for Markdown files and the manifest")
	scrapeTagCmd.Flags().IntVar(&concurrency, "concurrency", 10, "Maximum concurrent requests")
	scrapeTagCmd.Flags().BoolVar(&bypassCache, "bypass-cache", false, "Skip cache lookups and fetch fresh")

	rootCmd.AddCommand(paginateCmd, scrapeCmd, scrapeTagCmd, purgeCacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
