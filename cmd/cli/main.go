package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// Ids inserted by `migrate -seed`.
const (
	seedCustomerID = "e2a5a3c8-0001-4f7e-9b2a-6f3f6d2c1a01"
	seedProductAID = "e2a5a3c8-0002-4f7e-9b2a-6f3f6d2c1a02"
	seedProductBID = "e2a5a3c8-0003-4f7e-9b2a-6f3f6d2c1a03"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	status    string
	busy      bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"ok", "Order two seeded products"},
			{"replay", "Send the same order twice with one Idempotency-Key"},
			{"unknown-customer", "Order with a customer id that does not exist"},
			{"unknown-product", "Mix a seeded product with an unknown one"},
			{"insufficient-stock", "Request more units than are in stock"},
			{"duplicate-lines", "Two lines for the same product id"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selected].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "shop-orders-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status string
}

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		baseURL := getenv("ORDER_BASE_URL", "http://localhost:8080")

		customerID := seedCustomerID
		products := []map[string]any{
			{"product_id": seedProductAID, "quantity": 1},
			{"product_id": seedProductBID, "quantity": 2},
		}
		idemKey := ""

		switch scn {
		case "replay":
			idemKey = "cli-replay-" + uuid.NewString()
		case "unknown-customer":
			customerID = uuid.NewString()
		case "unknown-product":
			products = []map[string]any{
				{"product_id": seedProductAID, "quantity": 1},
				{"product_id": uuid.NewString(), "quantity": 1},
			}
		case "insufficient-stock":
			products = []map[string]any{{"product_id": seedProductAID, "quantity": 1_000_000}}
		case "duplicate-lines":
			products = []map[string]any{
				{"product_id": seedProductAID, "quantity": 1},
				{"product_id": seedProductAID, "quantity": 1},
			}
		}

		req := map[string]any{"customer_id": customerID, "products": products}
		resp, err := createOrder(baseURL, req, idemKey)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Rejected: %v", err)}
		}
		if scn == "replay" {
			replayed, err := createOrder(baseURL, req, idemKey)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Replay failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("First: %s\nReplay: %s", resp, replayed)}
		}
		return scenarioResult{status: fmt.Sprintf("Created: %s", resp)}
	}
}

func createOrder(baseURL string, payload any, idemKey string) (string, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimRight(baseURL, "/") + "/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func main() {
	runCmd := flag.String("run", "", "run one scenario and exit: ok|replay|unknown-customer|unknown-product|insufficient-stock|duplicate-lines")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
