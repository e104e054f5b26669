package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/rs/zerolog/log"
)

// DefaultAPIEndpoint is the Bot API URL template (token, method).
const DefaultAPIEndpoint = tgbotapi.APIEndpoint

// Platform descriptions that mean "file exists but cannot be served".
var fileTooLargeMarkers = []string{"file is too big", "file is too large"}

// TelegramConfig configures a TelegramClient.
type TelegramConfig struct {
	// Endpoint is a fmt template taking the bot token and the method name.
	Endpoint string
	// Tokens maps bot ids to Bot API tokens.
	Tokens map[int64]string
	// Timeout bounds every HTTP round-trip.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// TelegramClient implements Client on top of the Bot API.
type TelegramClient struct {
	endpoint string
	tokens   map[int64]string
	httpc    *http.Client

	mu   sync.Mutex
	bots map[int64]*tgbotapi.BotAPI
}

// NewTelegramClient builds a client for the configured bots. No network call
// is made until the first lookup.
func NewTelegramClient(cfg TelegramConfig) *TelegramClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	tokens := make(map[int64]string, len(cfg.Tokens))
	for id, tok := range cfg.Tokens {
		tokens[id] = tok
	}
	return &TelegramClient{
		endpoint: endpoint,
		tokens:   tokens,
		httpc:    hc,
		bots:     make(map[int64]*tgbotapi.BotAPI),
	}
}

// bot returns the API handle for botID. The handle is built directly rather
// than through tgbotapi.NewBotAPI, which would issue a getMe request.
func (c *TelegramClient) bot(botID int64) (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if api, ok := c.bots[botID]; ok {
		return api, nil
	}
	token, ok := c.tokens[botID]
	if !ok || token == "" {
		return nil, ErrUnknownBot
	}
	api := &tgbotapi.BotAPI{Token: token, Client: c.httpc, Buffer: 100}
	api.SetAPIEndpoint(c.endpoint)
	c.bots[botID] = api
	return api, nil
}

// FetchChatDetails calls getChat and returns the raw chat object.
func (c *TelegramClient) FetchChatDetails(ctx context.Context, botID int64, externalChatID string) (map[string]any, error) {
	api, err := c.bot(botID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, api, "getChat", tgbotapi.Params{"chat_id": externalChatID})
	if err != nil {
		return nil, unavailableWrap("getChat", err)
	}

	out := map[string]any{}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, unavailableWrap("decode getChat", err)
	}
	return out, nil
}

// FetchFileInfo calls getFile. An oversized file yields ErrFileTooLarge.
func (c *TelegramClient) FetchFileInfo(ctx context.Context, botID int64, fileRef string) (*FileInfo, error) {
	if strings.TrimSpace(fileRef) == "" {
		return nil, nil
	}
	api, err := c.bot(botID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, api, "getFile", tgbotapi.Params{"file_id": fileRef})
	if err != nil {
		if isFileTooLarge(err) {
			return nil, ErrFileTooLarge
		}
		return nil, unavailableWrap("getFile", err)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, nil
	}

	var f tgbotapi.File
	if err := json.Unmarshal(resp.Result, &f); err != nil {
		return nil, unavailableWrap("decode getFile", err)
	}
	return &FileInfo{
		FileID:       f.FileID,
		FileUniqueID: f.FileUniqueID,
		FileSize:     int64(f.FileSize),
		FilePath:     f.FilePath,
	}, nil
}

// call issues a Bot API request bound to ctx.
func call(ctx context.Context, api *tgbotapi.BotAPI, method string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	started := time.Now()
	resp, err := api.MakeRequestWithContext(ctx, method, params)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Str("method", method).Dur("elapsed", time.Since(started)).Msg("bot api call cancelled")
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty bot api response")
	}
	return resp, nil
}

func isFileTooLarge(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	for _, m := range fileTooLargeMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
