package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	applogger "FinTreasury/pkg/logger"
)

// Stream implements TransferStream over the gateway's websocket feed. It
// delivers transfers whose recipient is the manager.
type Stream struct {
	websocketURL   string
	recipient      string
	viewingKey     string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	tokens    []string
}

// NewStream creates a transfer stream for recipient.
func NewStream(websocketURL, recipient, viewingKey string, reconnectDelay, pingInterval time.Duration, log *applogger.Logger) drepo.TransferStream {
	if log == nil {
		log = applogger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Stream{
		websocketURL:   websocketURL,
		recipient:      recipient,
		viewingKey:     viewingKey,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	header := http.Header{}
	if s.viewingKey != "" {
		header.Set("X-Viewing-Key", s.viewingKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketURL, header)
	if err != nil {
		return fmt.Errorf("transfer stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("transfer stream connected", applogger.String("url", s.websocketURL))
	return nil
}

type subscribeMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
}

// Subscribe subscribes to transfers of tokens sent to the recipient.
func (s *Stream) Subscribe(ctx context.Context, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return fmt.Errorf("transfer stream not connected")
	}
	for _, t := range tokens {
		msg := subscribeMessage{Type: "subscribe", Token: t, Recipient: s.recipient}
		if err := s.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	s.tokens = append([]string(nil), tokens...)
	s.log.Info("transfer stream subscribed", applogger.Strings("tokens", tokens))
	return nil
}

type wsTransfer struct {
	TxHash    string `json:"tx_hash"`
	Token     string `json:"token"`
	Sender    string `json:"sender"`
	From      string `json:"from"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type wsMessage struct {
	Type string       `json:"type"`
	Data []wsTransfer `json:"data"`
}

// decodeTransfers returns the notifications in a frame addressed to recipient.
// Frames other than transfer batches yield nothing.
func decodeTransfers(b []byte, recipient string) []*models.TransferNotification {
	var m wsMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "transfer" {
		return nil
	}
	out := make([]*models.TransferNotification, 0, len(m.Data))
	for _, d := range m.Data {
		if recipient != "" && d.Recipient != "" && d.Recipient != recipient {
			continue
		}
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			continue
		}
		// transfer events are emitted by the token contract itself
		n := &models.TransferNotification{TxHash: d.TxHash, Token: d.Token, Notifier: d.Token, Sender: d.Sender, From: d.From, Amount: amount}
		if n.From == "" {
			n.From = n.Sender
		}
		out = append(out, n)
	}
	return out
}

// Read streams transfer notifications and errors.
func (s *Stream) Read(ctx context.Context) (<-chan *models.TransferNotification, <-chan error) {
	out := make(chan *models.TransferNotification, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
				s.mu.Unlock()
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				errs <- fmt.Errorf("transfer stream conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				select {
				case errs <- fmt.Errorf("transfer stream read: %w", err):
				case <-ctx.Done():
					return
				}
				// wait for Reconnect to swap the connection
				for {
					select {
					case <-ctx.Done():
						return
					case <-time.After(s.reconnectDelay + 100*time.Millisecond):
					}
					s.mu.Lock()
					swapped := s.conn != conn && s.conn != nil
					s.mu.Unlock()
					if swapped {
						break
					}
					select {
					case errs <- fmt.Errorf("transfer stream still disconnected"):
					default:
					}
				}
				continue
			}
			for _, n := range decodeTransfers(b, s.recipient) {
				// deposits move money; block rather than drop
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}

// Reconnect closes and reconnects, resubscribing to the previous tokens.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	tokens := s.tokens
	s.mu.Unlock()
	return s.Subscribe(ctx, tokens)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
