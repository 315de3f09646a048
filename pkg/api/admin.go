package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stripehooks/pkg/storage"

	"github.com/brianvoe/gofakeit/v6"
)

// The admin panel consumes synthetic analytics until real reporting exists;
// handlers fall back to recorded data where a store is configured.

// AdminStatsHandler serves revenue/user summary numbers for the dashboard.
type AdminStatsHandler struct {
	Payments storage.PaymentStore
	Faker    *gofakeit.Faker
	Logger   *log.Logger
}

func (h *AdminStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	faker := h.faker()

	stats := map[string]interface{}{
		"total_users":          faker.Number(250, 5000),
		"active_subscriptions": faker.Number(50, 800),
		"monthly_revenue":      faker.Price(1000, 50000),
		"churn_rate":           faker.Float64Range(0.5, 6.5),
		"trial_conversions":    faker.Number(5, 120),
		"generated_at":         time.Now().UTC().Format(time.RFC3339),
	}

	if h.Payments != nil {
		records, err := h.Payments.ListPayments(r.Context(), storage.PaymentFilter{Provider: "stripe"})
		if err != nil {
			if h.Logger != nil {
				h.Logger.Printf("list payments for stats failed: %v", err)
			}
		} else {
			var succeeded, failed, dunning int
			var recorded int64
			for _, record := range records {
				switch record.Status {
				case "succeeded":
					succeeded++
					recorded += record.Amount
				case "failed":
					failed++
				}
				if record.Dunning {
					dunning++
				}
			}
			stats["recorded_payments"] = succeeded
			stats["recorded_failures"] = failed
			stats["recorded_revenue"] = recorded
			stats["dunning_queue"] = dunning
		}
	}

	writeJSON(w, stats)
}

func (h *AdminStatsHandler) faker() *gofakeit.Faker {
	if h.Faker != nil {
		return h.Faker
	}
	return gofakeit.New(0)
}

// AdminUsersHandler serves a page of synthetic user rows.
type AdminUsersHandler struct {
	Faker  *gofakeit.Faker
	Logger *log.Logger
}

type adminUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Plan     string `json:"plan"`
	Status   string `json:"status"`
	JoinedAt string `json:"joined_at"`
}

func (h *AdminUsersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			http.Error(w, "count must be between 1 and 500", http.StatusBadRequest)
			return
		}
		count = parsed
	}

	faker := h.Faker
	if faker == nil {
		faker = gofakeit.New(0)
	}

	plans := []string{"starter", "standard", "premium"}
	statuses := []string{"active", "trialing", "past_due", "canceled"}
	users := make([]adminUser, 0, count)
	for i := 0; i < count; i++ {
		users = append(users, adminUser{
			ID:       faker.UUID(),
			Name:     faker.Name(),
			Email:    faker.Email(),
			Plan:     faker.RandomString(plans),
			Status:   faker.RandomString(statuses),
			JoinedAt: faker.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()).Format(time.RFC3339),
		})
	}

	writeJSON(w, users)
}

// AdminPaymentsHandler lists recorded payments for the admin panel.
type AdminPaymentsHandler struct {
	Payments storage.PaymentStore
	Logger   *log.Logger
}

func (h *AdminPaymentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Payments == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	filter := storage.PaymentFilter{
		Provider:   "stripe",
		Kind:       strings.TrimSpace(r.URL.Query().Get("kind")),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer")),
		Status:     strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("dunning"); raw != "" {
		dunning := raw == "true"
		filter.Dunning = &dunning
	}

	records, err := h.Payments.ListPayments(r.Context(), filter)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Printf("list payments failed: %v", err)
		}
		http.Error(w, "list payments failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, records)
}
