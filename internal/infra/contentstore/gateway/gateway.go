package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/content"
)

type Provider string

const (
	Lighthouse  Provider = "lighthouse"
	Web3Storage Provider = "web3storage"
)

const (
	DefaultLighthouseURL  = "https://node.lighthouse.storage"
	DefaultWeb3StorageURL = "https://api.web3.storage"
	DefaultGatewayURL     = "https://gateway.lighthouse.storage"
)

type Config struct {
	Provider   Provider
	Token      string
	APIURL     string
	GatewayURL string
	Timeout    time.Duration
}

// Store uploads to an IPFS pinning service and reads back through an IPFS
// HTTP gateway.
type Store struct {
	provider   Provider
	token      string
	apiURL     string
	gatewayURL string
	httpClient *http.Client
	log        *zap.Logger
}

// New fails with content.ErrMissingCredential when no token is configured.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, content.ErrMissingCredential)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		provider:   cfg.Provider,
		token:      cfg.Token,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("contentstore.gateway"),
	}
	switch s.provider {
	case Lighthouse, "":
		s.provider = Lighthouse
		if s.apiURL == "" {
			s.apiURL = DefaultLighthouseURL
		}
	case Web3Storage:
		if s.apiURL == "" {
			s.apiURL = DefaultWeb3StorageURL
		}
	default:
		return nil, fmt.Errorf("unknown content store provider %q", cfg.Provider)
	}
	if s.gatewayURL == "" {
		s.gatewayURL = DefaultGatewayURL
	}
	if s.httpClient.Timeout == 0 {
		s.httpClient.Timeout = 5 * time.Minute
	}
	return s, nil
}

// Put uploads r as one multipart file and returns the CID the service assigned.
func (s *Store) Put(ctx context.Context, name, contentType string, r io.Reader) (content.ID, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFile(mw, name, r))
	}()

	path := "/api/v0/add"
	if s.provider == Web3Storage {
		path = "/upload"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+path, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("upload %s to %s: %w", name, s.provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("upload %s: read response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload %s to %s: HTTP %d: %s", name, s.provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Hash string `json:"Hash"`
		CID  string `json:"cid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("upload %s: decode response: %w", name, err)
	}
	raw := out.Hash
	if raw == "" {
		raw = out.CID
	}
	id, err := content.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	s.log.Debug("content uploaded", zap.String("name", name), zap.String("cid", id.String()), zap.String("content_type", contentType))
	return id, nil
}

func writeFile(mw *multipart.Writer, name string, r io.Reader) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}
	return mw.Close()
}

// Get dereferences id through {gateway}/ipfs/{cid}.
func (s *Store) Get(ctx context.Context, id content.ID) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gatewayURL+"/ipfs/"+id.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w", id, content.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: gateway HTTP %d", id, resp.StatusCode)
	}
	return resp.Body, nil
}

// URL is the public gateway link for id.
func (s *Store) URL(id content.ID) string {
	return s.gatewayURL + "/ipfs/" + id.String()
}
