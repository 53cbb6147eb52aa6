package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/accrual"
	"github.com/mcclellann/fredYield/pkg/allocation"
	"github.com/mcclellann/fredYield/pkg/config"
	"github.com/mcclellann/fredYield/pkg/export"
	"github.com/mcclellann/fredYield/pkg/ledger"
	"github.com/mcclellann/fredYield/pkg/logger"
	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/money"
	"github.com/mcclellann/fredYield/pkg/normalize"
	"github.com/mcclellann/fredYield/pkg/store"
)

// Server holds the engine instance.
type Server struct {
	engine  *ledger.Engine
	storage store.Storage // Keep a reference to the storage to close it
	log     zerolog.Logger

	// defaultMonthlyRate applies when account creation omits a rate.
	defaultMonthlyRate decimal.Decimal
}

func NewServer(s store.Storage, log zerolog.Logger, opts ...ledger.Option) *Server {
	opts = append([]ledger.Option{ledger.WithLogger(log)}, opts...)
	return &Server{
		engine:  ledger.NewEngine(s, opts...),
		storage: s,
		log:     log,
	}
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	router.HandleFunc("/accounts", s.createAccountHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}", s.closeAccountHandler).Methods("DELETE")
	router.HandleFunc("/accounts/{id}/entries", s.recordEntryHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/projection", s.projectionHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/statement", s.statementHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/bonus", s.creditBonusHandler).Methods("POST")
	router.HandleFunc("/imports", s.importHandler).Methods("POST")
	router.HandleFunc("/yield-deposits", s.listYieldDepositsHandler).Methods("GET")
	router.HandleFunc("/yield-deposits", s.createYieldDepositHandler).Methods("POST")
	router.HandleFunc("/yield-deposits/{id}", s.getYieldDepositHandler).Methods("GET")
	router.HandleFunc("/yield-deposits/{id}/accruals", s.listAccrualsHandler).Methods("GET")
	router.HandleFunc("/yield-deposits/{id}/accruals", s.applyAccrualHandler).Methods("POST")
	router.HandleFunc("/yield-deposits/{id}/close", s.closeYieldDepositHandler).Methods("POST")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// writeError maps engine errors onto HTTP statuses. Validation problems
// come back with per-row details so the uploader can fix the sheet.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *normalize.ValidationError
	if errors.As(err, &verr) {
		type rowError struct {
			Row    int    `json:"row"`
			Field  string `json:"field,omitempty"`
			Reason string `json:"reason"`
			Detail string `json:"detail,omitempty"`
		}
		out := struct {
			Error string     `json:"error"`
			Rows  []rowError `json:"rows"`
		}{Error: "validation failed"}
		for _, r := range verr.Rows {
			out.Rows = append(out.Rows, rowError{Row: r.Index, Field: r.Field, Reason: r.Reason.Error(), Detail: r.Detail})
		}
		writeJSON(w, http.StatusUnprocessableEntity, out)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, normalize.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, allocation.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrSourceIdentityAmbiguous):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrReplacementRaceLost):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerUserRef string `json:"owner_user_ref"`
		OwnerName    string `json:"owner_name"`
		OwnerPhone   string `json:"owner_phone"`
		Principal    string `json:"principal"`
		MonthlyRate  string `json:"monthly_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	principal := decimal.Zero
	if req.Principal != "" {
		var err error
		principal, err = money.Parse(req.Principal)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid principal: %v", err), http.StatusBadRequest)
			return
		}
	}
	rate := s.defaultMonthlyRate
	if req.MonthlyRate != "" {
		var err error
		rate, err = money.ParseRate(req.MonthlyRate)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid monthly rate: %v", err), http.StatusBadRequest)
			return
		}
	}

	account, err := s.engine.CreateAccount(r.Context(), req.OwnerUserRef, req.OwnerName, req.OwnerPhone, principal, rate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	account, err := s.engine.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) closeAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	if err := s.engine.CloseAccount(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recordEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	account, err := s.engine.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var row models.RawRow
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.engine.RecordEntry(r.Context(), account.OwnerUserRef, row)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountKey     string          `json:"account_key"`
		SourceIdentity string          `json:"source_identity"`
		Rows           []models.RawRow `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.engine.ReconcileImport(r.Context(), req.AccountKey, req.SourceIdentity, req.Rows)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) projectionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	proj, err := s.engine.ProjectLedger(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	account, err := s.engine.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proj, err := s.engine.ProjectLedger(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.engine.ListAccountEntries(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "xlsx":
		data, err := export.BuildStatementXLSX(account, proj, entries)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", account.AccountNumber))
		w.Write(data)
	case "pdf":
		data, err := export.BuildStatementPDF(account, proj, entries)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", account.AccountNumber))
		w.Write(data)
	default:
		http.Error(w, "Unknown format, want xlsx or pdf", http.StatusBadRequest)
	}
}

func (s *Server) creditBonusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	asOf, err := asOfParam(r, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.engine.CreditMonthlyBonus(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) createYieldDepositHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerUserRef    string `json:"owner_user_ref"`
		Principal       string `json:"principal"`
		AnnualYieldRate string `json:"annual_yield_rate"`
		StartDate       string `json:"start_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	principal, err := money.ParsePositive(req.Principal)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid principal: %v", err), http.StatusBadRequest)
		return
	}
	rate, err := money.ParseRate(req.AnnualYieldRate)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid annual yield rate: %v", err), http.StatusBadRequest)
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid start date: %v", err), http.StatusBadRequest)
		return
	}

	dep, err := s.engine.CreateYieldDeposit(r.Context(), req.OwnerUserRef, principal, rate, start)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) listYieldDepositsHandler(w http.ResponseWriter, r *http.Request) {
	deps, err := s.engine.ListYieldDeposits(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *Server) getYieldDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid deposit ID", http.StatusBadRequest)
		return
	}
	dep, err := s.engine.GetYieldDeposit(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) listAccrualsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid deposit ID", http.StatusBadRequest)
		return
	}
	events, err := s.engine.ListAccrualEvents(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) applyAccrualHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid deposit ID", http.StatusBadRequest)
		return
	}
	asOf, err := asOfParam(r, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := s.engine.ApplyAccrual(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applied int                   `json:"applied"`
		Events  []models.AccrualEvent `json:"events"`
	}{Applied: len(events), Events: events})
}

func (s *Server) closeYieldDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid deposit ID", http.StatusBadRequest)
		return
	}
	asOf, err := asOfParam(r, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dep, err := s.engine.CloseYieldDeposit(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func asOfParam(r *http.Request, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of date %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize SQLite store")
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, log,
		ledger.WithAutoCreate(cfg.AutoCreateAccounts),
		ledger.WithFutureTolerance(cfg.FutureDateToleranceDays),
		ledger.WithBonusAttribution(accrual.BonusAttribution(cfg.BonusAttribution)),
	)
	if cfg.DefaultMonthlyRate != "" {
		server.defaultMonthlyRate, err = money.ParseRate(cfg.DefaultMonthlyRate)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid default_monthly_rate")
		}
	}

	log.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.DBPath).Msg("server starting")
	if err := http.ListenAndServe(cfg.ListenAddr, server.router()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
