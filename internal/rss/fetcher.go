// Package rss refreshes subscribed channels from their YouTube Atom feeds.
package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/logging"
	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// MinPollInterval is the shortest allowed refresh interval.
const MinPollInterval = 15 * time.Minute

const (
	// MaxConcurrencyPerDomain limits parallel requests to any single host.
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum spacing of requests to one host.
	DelayBetweenDomainRequests = 500 * time.Millisecond
	// requestTimeout bounds a single feed download.
	requestTimeout = 30 * time.Second
	// breakerFailures consecutive failed downloads from one host open its circuit.
	breakerFailures = 5
	breakerCooldown = 2 * time.Minute
)

// domainLimiter caps parallel requests per host and spaces them out. A host
// that keeps failing is skipped for a while by its circuit breaker.
type domainLimiter struct {
	mu         sync.Mutex
	semaphores map[string]chan struct{}
	limiters   map[string]*rate.Limiter
	breakers   map[string]*gobreaker.CircuitBreaker[*gofeed.Feed]
	log        zerolog.Logger
}

func newDomainLimiter(log zerolog.Logger) *domainLimiter {
	return &domainLimiter{
		semaphores: make(map[string]chan struct{}),
		limiters:   make(map[string]*rate.Limiter),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*gofeed.Feed]),
		log:        log,
	}
}

// breaker returns the circuit breaker of a host.
func (dl *domainLimiter) breaker(domain string) *gobreaker.CircuitBreaker[*gofeed.Feed] {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if cb, ok := dl.breakers[domain]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*gofeed.Feed](gobreaker.Settings{
		Name:        domain,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		// a cancelled refresh says nothing about the host
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			dl.log.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("feed host circuit changed")
		},
	})
	dl.breakers[domain] = cb
	return cb
}

// acquire blocks until the host has a free slot and its rate allows a request.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
		dl.limiters[domain] = rate.NewLimiter(rate.Every(DelayBetweenDomainRequests), 1)
	}
	lim := dl.limiters[domain]
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := lim.Wait(ctx); err != nil {
		<-sem
		return err
	}
	return nil
}

func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	sem := dl.semaphores[domain]
	dl.mu.Unlock()
	if sem != nil {
		<-sem
	}
}

func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// Fetcher downloads channel feeds and stores new videos.
type Fetcher struct {
	store         database.FeedStore
	parser        *gofeed.Parser
	urlTemplate   string
	concurrency   int
	domainLimiter *domainLimiter
	log           zerolog.Logger
}

// NewFetcher creates a fetcher. urlTemplate must contain one %s for the
// channel id.
func NewFetcher(store database.FeedStore, urlTemplate string, concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: requestTimeout}
	parser.UserAgent = "skyvault/1.0"
	log := logging.With().Str("component", "rss").Logger()
	return &Fetcher{
		store:         store,
		parser:        parser,
		urlTemplate:   urlTemplate,
		concurrency:   concurrency,
		domainLimiter: newDomainLimiter(log),
		log:           log,
	}
}

// FeedURL returns the feed address of a channel.
func (f *Fetcher) FeedURL(channelID string) string {
	return fmt.Sprintf(f.urlTemplate, url.QueryEscape(channelID))
}

// FetchChannel refreshes one channel and returns the number of new videos.
func (f *Fetcher) FetchChannel(ctx context.Context, ch model.Channel) (int, error) {
	feedURL := f.FeedURL(ch.ID)
	domain := extractDomain(feedURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", ch.ID, err)
	}
	defer f.domainLimiter.release(domain)

	parsed, err := f.domainLimiter.breaker(domain).Execute(func() (*gofeed.Feed, error) {
		return f.parser.ParseURLWithContext(feedURL, ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("parse feed of %s: %w", ch.ID, err)
	}

	// Pick up a renamed channel.
	if parsed.Title != "" && parsed.Title != ch.Title {
		updated := ch
		updated.Title = parsed.Title
		if _, err := f.store.UpdateChannelInfo(ctx, updated); err != nil {
			f.log.Warn().Err(err).Str("channel", ch.ID).Msg("could not update channel title")
		} else {
			f.log.Info().Str("channel", ch.ID).Str("title", parsed.Title).Msg("channel renamed")
			ch = updated
		}
	}

	videos := make([]model.Video, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if v, ok := videoFromItem(item, ch); ok {
			videos = append(videos, v)
		}
	}
	return f.store.SaveChannelVideos(ctx, ch.ID, videos, true)
}

// videoFromItem maps a YouTube feed entry. Entries without a video id are
// dropped.
func videoFromItem(item *gofeed.Item, ch model.Channel) (model.Video, bool) {
	id := extValue(item.Extensions, "yt", "videoId")
	if id == "" {
		return model.Video{}, false
	}
	channel := &model.Channel{ID: ch.ID, Title: ch.Title}
	if len(item.Authors) > 0 && item.Authors[0].Name != "" {
		channel.Title = item.Authors[0].Name
	}

	v := model.Video{
		ID:      id,
		Title:   item.Title,
		Channel: channel,
	}
	if item.PublishedParsed != nil {
		ts := item.PublishedParsed.UnixMilli()
		v.PublishTimestamp = &ts
		v.PublishTimestampExact = true
	}

	group := first(item.Extensions["media"]["group"])
	if group != nil {
		if d := first(group.Children["description"]); d != nil {
			v.Description = d.Value
		}
		if th := first(group.Children["thumbnail"]); th != nil {
			v.ThumbnailURL = th.Attrs["url"]
		}
		if community := first(group.Children["community"]); community != nil {
			if stats := first(community.Children["statistics"]); stats != nil {
				v.ViewsCount, _ = strconv.ParseInt(stats.Attrs["views"], 10, 64)
			}
			if rating := first(community.Children["starRating"]); rating != nil {
				if avg, err := strconv.ParseFloat(rating.Attrs["average"], 64); err == nil && avg > 0 {
					v.ThumbsUpPercentage = int((avg - 1) / 4 * 100)
				}
			}
		}
	}
	if v.Description == "" {
		v.Description = item.Description
	}
	return v, true
}

func extValue(exts ext.Extensions, ns, name string) string {
	if e := first(exts[ns][name]); e != nil {
		return e.Value
	}
	return ""
}

func first(list []ext.Extension) *ext.Extension {
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

// FetchResult holds the result of refreshing one channel.
type FetchResult struct {
	ChannelID string
	NewVideos int
	Error     error
}

// FetchAll refreshes every subscribed channel and returns channel id ->
// new video count for the channels that succeeded.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]int, error) {
	channels, err := f.store.SubscribedChannels(ctx)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return make(map[string]int), nil
	}

	f.log.Info().Int("channels", len(channels)).Int("concurrency", f.concurrency).Msg("refreshing subscriptions")
	if f.concurrency <= 1 {
		return f.fetchSequential(ctx, channels)
	}
	return f.fetchParallel(ctx, channels)
}

func (f *Fetcher) fetchSequential(ctx context.Context, channels []model.Channel) (map[string]int, error) {
	results := make(map[string]int)
	for i, ch := range channels {
		select {
		case <-ctx.Done():
			f.log.Warn().Int("done", i).Int("total", len(channels)).Msg("refresh cancelled")
			return results, ctx.Err()
		default:
		}

		count, err := f.FetchChannel(ctx, ch)
		if err != nil {
			f.log.Warn().Err(err).Str("channel", ch.ID).Msg("refresh failed")
			continue
		}
		results[ch.ID] = count
	}
	return results, nil
}

func (f *Fetcher) fetchParallel(ctx context.Context, channels []model.Channel) (map[string]int, error) {
	var wg sync.WaitGroup
	jobs := make(chan model.Channel)
	out := make(chan FetchResult, len(channels))

	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range jobs {
				count, err := f.FetchChannel(ctx, ch)
				out <- FetchResult{ChannelID: ch.ID, NewVideos: count, Error: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, ch := range channels {
			select {
			case <-ctx.Done():
				return
			case jobs <- ch:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make(map[string]int)
	for r := range out {
		if r.Error != nil {
			f.log.Warn().Err(r.Error).Str("channel", r.ChannelID).Msg("refresh failed")
			continue
		}
		results[r.ChannelID] = r.NewVideos
	}
	return results, ctx.Err()
}

// Poller refreshes subscriptions in the background and trims old videos.
type Poller struct {
	fetcher  *Fetcher
	store    database.FeedStore
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewPoller creates a background poller. Intervals below MinPollInterval
// are raised to it.
func NewPoller(fetcher *Fetcher, store database.FeedStore, interval, timeout time.Duration) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
		log:      logging.With().Str("component", "poller").Logger(),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			p.runOnce()

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

func (p *Poller) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	results, err := p.fetcher.FetchAll(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("refresh error")
	} else {
		total := 0
		for _, c := range results {
			total += c
		}
		p.log.Info().Int("new_videos", total).Int("channels", len(results)).Msg("refresh done")
	}

	if _, err := p.store.TrimSubscriptionVideos(ctx); err != nil {
		p.log.Error().Err(err).Msg("trim error")
	}
}

// Stop stops the poller and waits for a running refresh to finish.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
