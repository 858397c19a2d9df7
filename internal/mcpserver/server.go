// Package mcpserver exposes the market service as MCP tools and resources.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/docquote/internal/market"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	Name = "Stock Price Server"

	resourceScheme = "stock://"

	defaultShutdownTimeout = 10 * time.Second
)

// Server wires market lookups into an MCP server.
type Server struct {
	svc *market.Service
	mcp *server.MCPServer
	log *slog.Logger
}

func New(svc *market.Service, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		svc: svc,
		log: log,
		mcp: server.NewMCPServer(Name, version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	s.register()
	return s
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool("get_stock_price",
		mcp.WithDescription("Retrieve the current stock price for the given ticker symbol. "+
			"Returns the latest closing price as a float, or -1.0 if it cannot be determined."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("The stock ticker symbol.")),
	), s.handleGetPrice)

	s.mcp.AddTool(mcp.NewTool("get_stock_history",
		mcp.WithDescription("Retrieve historical data for a stock given a ticker symbol and a period. "+
			"Returns the historical data as a CSV formatted string."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("The stock ticker symbol.")),
		mcp.WithString("period",
			mcp.DefaultString(market.DefaultPeriod),
			mcp.Description("The period over which to retrieve historical data (e.g., '1mo', '3mo', '1y')."),
		),
	), s.handleGetHistory)

	s.mcp.AddTool(mcp.NewTool("compare_stocks",
		mcp.WithDescription("Compare the current stock prices of two ticker symbols. "+
			"Returns a formatted message comparing the two stock prices."),
		mcp.WithString("symbol1", mcp.Required(), mcp.Description("The first stock ticker symbol.")),
		mcp.WithString("symbol2", mcp.Required(), mcp.Description("The second stock ticker symbol.")),
	), s.handleCompare)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(resourceScheme+"{symbol}", "stock_resource",
		mcp.WithTemplateDescription("Current stock price for the given symbol as a formatted sentence."),
		mcp.WithTemplateMIMEType("text/plain"),
	), s.handleStockResource)
}

func (s *Server) handleGetPrice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	price := s.svc.Price(ctx, symbol)
	s.log.Debug("tool call", "tool", "get_stock_price", "symbol", symbol, "price", price)
	return mcp.NewToolResultText(market.FormatPrice(price)), nil
}

func (s *Server) handleGetHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	period := req.GetString("period", market.DefaultPeriod)
	s.log.Debug("tool call", "tool", "get_stock_history", "symbol", symbol, "period", period)
	return mcp.NewToolResultText(s.svc.History(ctx, symbol, period)), nil
}

func (s *Server) handleCompare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol1, err := req.RequireString("symbol1")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	symbol2, err := req.RequireString("symbol2")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.log.Debug("tool call", "tool", "compare_stocks", "symbol1", symbol1, "symbol2", symbol2)
	return mcp.NewToolResultText(s.svc.Compare(ctx, symbol1, symbol2)), nil
}

func (s *Server) handleStockResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	symbol := strings.TrimPrefix(req.Params.URI, resourceScheme)
	if symbol == "" || symbol == req.Params.URI {
		return nil, fmt.Errorf("invalid stock resource uri %q", req.Params.URI)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     s.svc.Describe(ctx, symbol),
		},
	}, nil
}

// MCP returns the underlying server, for in-process use.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the input closes or the
// process receives SIGINT/SIGTERM.
func (s *Server) ServeStdio() error {
	s.log.Info("serving mcp over stdio", "name", Name)
	return server.ServeStdio(s.mcp)
}

// ServeSSE serves MCP over HTTP server-sent events until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := server.NewSSEServer(s.mcp, server.WithBaseURL(baseURL))

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving mcp over sse", "name", Name, "addr", addr, "base_url", baseURL)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	}
}
