package clickhouse

import (
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClientOption func(*ClientConfig)

type ClientConfig struct {
	Addr            string // host:port
	Database        string
	User            string
	Password        string
	UseHTTP         bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	// server settings applied to every query
	MaxExecTime  time.Duration
	AsyncInsert  bool
	WaitForAsync bool
	InsertChunk  int
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Database:        "default",
		User:            "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		InsertChunk:     2000,
	}
}

// options translates the config into driver options.
func (c ClientConfig) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr:            []string{c.Addr},
		Auth:            clickhouse.Auth{Database: c.Database, Username: c.User, Password: c.Password},
		Protocol:        clickhouse.Native,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Settings:        clickhouse.Settings{},
	}
	if c.UseHTTP {
		opts.Protocol = clickhouse.HTTP
	}
	if c.MaxExecTime > 0 {
		opts.Settings["max_execution_time"] = int(c.MaxExecTime.Seconds())
	}
	if c.AsyncInsert {
		opts.Settings["async_insert"] = 1
		if c.WaitForAsync {
			opts.Settings["wait_for_async_insert"] = 1
		}
	}
	return opts
}

// WithAddr sets the server address. A zero port picks the protocol default.
func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		if port == 0 {
			port = 9000
			if c.UseHTTP {
				port = 8123
			}
		}
		c.Addr = fmt.Sprintf("%s:%d", host, port)
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) {
		if database != "" {
			c.Database = database
		}
	}
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		if user != "" {
			c.User = user
		}
		c.Password = password
	}
}

func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
	}
}

func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithHTTP switches from the native protocol to HTTP. Apply it before WithAddr
// so the default port follows.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithAsyncInsert lets the server buffer inserts; wait makes an insert return
// only once the buffer was flushed.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) {
		c.AsyncInsert = enabled
		c.WaitForAsync = wait
	}
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}

// WithInsertChunk sets how many rows InsertRows sends per statement.
func WithInsertChunk(rows int) ClientOption {
	return func(c *ClientConfig) {
		if rows > 0 {
			c.InsertChunk = rows
		}
	}
}
