// quotes-tui is an interactive console showing live per-venue quotes for a
// token pair against a locally assembled engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/openliq/aggregator/internal/config"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/logger"
	"github.com/openliq/aggregator/internal/router"
	"github.com/openliq/aggregator/internal/service"
	"github.com/openliq/aggregator/internal/token"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			MarginBottom(1)
	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

type tickMsg time.Time

type quotesMsg []router.VenueQuote

type errMsg struct{ err error }

type model struct {
	engine   *router.Router
	book     *ledger.Book
	table    table.Model
	tokenIn  token.Token
	tokenOut token.Token
	amount   *big.Int
	refresh  time.Duration
	lastErr  error
	updated  time.Time
}

func newModel(engine *router.Router, book *ledger.Book, in, out token.Token, amount *big.Int, refresh time.Duration) model {
	columns := []table.Column{
		{Title: "Venue", Width: 18},
		{Title: "Amount Out", Width: 24},
		{Title: "Amount Out (human)", Width: 24},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).BorderBottom(true)
	t.SetStyles(s)

	return model{
		engine:   engine,
		book:     book,
		table:    t,
		tokenIn:  in,
		tokenOut: out,
		amount:   amount,
		refresh:  refresh,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchQuotes(), tea.EnterAltScreen)
}

func (m model) fetchQuotes() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		quotes, err := m.engine.GetAllQuotes(ctx, m.tokenIn, m.tokenOut, m.amount)
		if err != nil {
			return errMsg{err}
		}
		return quotesMsg(quotes)
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchQuotes()
		}

	case tickMsg:
		return m, m.fetchQuotes()

	case quotesMsg:
		rows := make([]table.Row, len(msg))
		for i, q := range msg {
			rows[i] = table.Row{q.Name, q.AmountOut.String(), m.humanize(q.AmountOut)}
		}
		m.table.SetRows(rows)
		m.lastErr = nil
		m.updated = time.Now()
		return m, m.tick()

	case errMsg:
		m.lastErr = msg.err
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) humanize(amount *big.Int) string {
	decimals := uint8(18)
	if !m.tokenOut.IsNative() {
		info, ok := m.book.Info(m.tokenOut)
		if !ok {
			return amount.String()
		}
		decimals = info.Decimals
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func (m model) View() string {
	title := titleStyle.Render(fmt.Sprintf("Quotes %s -> %s for %s",
		m.tokenIn, m.tokenOut, m.amount))
	body := baseStyle.Render(m.table.View())
	status := ""
	if m.lastErr != nil {
		status = errStyle.Render("error: " + m.lastErr.Error())
	} else if !m.updated.IsZero() {
		status = helpStyle.Render("updated " + m.updated.Format("15:04:05"))
	}
	help := helpStyle.Render("r refresh · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, title, body, status, help)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	inFlag := flag.String("in", "native", "Input token (hex address or \"native\")")
	outFlag := flag.String("out", "", "Output token (hex address or \"native\")")
	amountFlag := flag.String("amount", "1000000000000000000", "Input amount in base units")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(&logger.Config{
		LogFile:  "logs/quotes-tui.log",
		Level:    cfg.LogLevel,
		FileOnly: true,
	})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	runner := service.NewRunner(cfg, appLogger)
	if err := runner.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	tokenIn := parseToken(*inFlag)
	tokenOut := parseToken(*outFlag)
	amount, ok := new(big.Int).SetString(*amountFlag, 10)
	if !ok || amount.Sign() <= 0 {
		log.Fatalf("Invalid amount %q", *amountFlag)
	}

	m := newModel(runner.Engine(), runner.Book(), tokenIn, tokenOut, amount,
		time.Duration(cfg.QuoteRefresh)*time.Millisecond)

	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		log.Fatalf("TUI failed: %v", err)
	}
}

func parseToken(s string) token.Token {
	if s == "" || s == "native" {
		return token.Native()
	}
	return token.FromHex(s)
}
