package server

import (
	"errors"
	"net/http"
	"strconv"

	"SimBank/internal/apperr"
	"SimBank/internal/interbank"
	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/money"
	"SimBank/internal/simulation"
)

func (s *Server) routes() []route {
	return []route{
		{http.MethodPost, "/v1/accounts", team, s.openAccount},
		{http.MethodGet, "/v1/accounts", admin, s.listAccounts},
		{http.MethodGet, "/v1/accounts/me", team, s.myAccount},
		{http.MethodPut, "/v1/accounts/me/notification-url", team, s.updateNotificationURL},
		{http.MethodDelete, "/v1/accounts/me", team, s.closeAccount},
		{http.MethodGet, "/v1/accounts/{account_number}/balance", admin, s.accountBalance},

		{http.MethodPost, "/v1/transactions", team, s.transfer},
		{http.MethodGet, "/v1/transactions", team, s.listTransactions},
		{http.MethodGet, "/v1/transactions/{transaction_number}", team, s.getTransaction},

		{http.MethodPost, "/v1/loans", team, s.originate},
		{http.MethodGet, "/v1/loans", team, s.listLoans},
		{http.MethodGet, "/v1/loans/{loan_number}", team, s.getLoan},
		{http.MethodPost, "/v1/loans/{loan_number}/pay", team, s.repay},

		{http.MethodPost, interbank.DepositPath, anyone, s.receiveDeposit},

		{http.MethodPost, "/v1/simulation", admin, s.startSimulation},
		{http.MethodGet, "/v1/simulation", admin, s.simulationStatus},
		{http.MethodDelete, "/v1/simulation", admin, s.endSimulation},
		{http.MethodGet, "/v1/time", anyone, s.now},

		{http.MethodPut, "/v1/admin/interest-rate", admin, s.setInterestRate},
		{http.MethodPut, "/v1/admin/loan-cap", admin, s.setLoanCap},
		{http.MethodPut, "/v1/admin/bank-loan-cap", admin, s.setBankLoanCap},
	}
}

// callerAccount is the account the calling team owns, open or closed.
func (s *Server) callerAccount(r *http.Request) (*ledger.Account, error) {
	return s.deps.Directory.ByTeam(r.Context(), teamFromContext(r.Context()))
}

// --- accounts ---

type openAccountBody struct {
	NotificationURL string `json:"notification_url"`
}

func (s *Server) openAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body openAccountBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	acct, err := s.deps.Directory.Open(r.Context(), ledger.OpenRequest{
		TeamID:          teamFromContext(r.Context()),
		NotificationURL: body.NotificationURL,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, acct)
	return nil
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	accts, err := s.deps.Directory.ListOpen(r.Context())
	if err != nil {
		return err
	}
	if accts == nil {
		accts = []ledger.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accts})
	return nil
}

func (s *Server) myAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	standing, err := s.deps.Loans.Standing(r.Context(), acct.Number)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  acct,
		"standing": standing,
	})
	return nil
}

func (s *Server) updateNotificationURL(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body openAccountBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	acct, err := s.deps.Directory.UpdateNotificationURL(r.Context(), teamFromContext(r.Context()), body.NotificationURL)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, acct)
	return nil
}

func (s *Server) closeAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	acct, err := s.deps.Directory.Close(r.Context(), teamFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, acct)
	return nil
}

func (s *Server) accountBalance(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	standing, err := s.deps.Loans.Standing(r.Context(), p["account_number"])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, standing)
	return nil
}

// --- transactions ---

type transferBody struct {
	TransactionNumber string       `json:"transaction_number"`
	ToBank            string       `json:"to_bank"`
	ToAccount         string       `json:"to_account"`
	Amount            money.Amount `json:"amount"`
	Description       string       `json:"description"`
}

// transfer moves money out of the caller's account. Transfers to another
// bank go through the interbank gateway; failed statuses are still 201.
func (s *Server) transfer(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body transferBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}

	if body.ToBank == "" || body.ToBank == s.deps.Ledger.BankID() {
		t, err := s.deps.Ledger.RecordTransaction(r.Context(), ledger.TransferRequest{
			SenderBank:       s.deps.Ledger.BankID(),
			SenderAccount:    acct.Number,
			RecipientBank:    s.deps.Ledger.BankID(),
			RecipientAccount: body.ToAccount,
			Amount:           body.Amount,
			Description:      body.Description,
			Number:           body.TransactionNumber,
		})
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, interbank.SendResult{Transaction: t, Delivered: t.Succeeded()})
		return nil
	}

	if s.deps.Interbank == nil {
		return interbank.ErrUnknownBank
	}
	res, err := s.deps.Interbank.Send(r.Context(), interbank.Outbound{
		FromAccount: acct.Number,
		ToBank:      body.ToBank,
		ToAccount:   body.ToAccount,
		Amount:      body.Amount,
		Description: body.Description,
		Number:      body.TransactionNumber,
	})
	if errors.Is(err, interbank.ErrRemoteRejected) || errors.Is(err, interbank.ErrRefundNotBooked) {
		writeError(w, s.log, err, res)
		return nil
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, res)
	return nil
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	q, err := listQuery(r)
	if err != nil {
		return err
	}
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	txs, err := s.deps.Ledger.ListTransactions(r.Context(), acct.Number, q)
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	resp := map[string]interface{}{"transactions": txs}
	if n := len(txs); n > 0 && n == q.Normalize().Limit {
		resp["next_before"] = txs[n-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func listQuery(r *http.Request) (ledger.ListQuery, error) {
	var q ledger.ListQuery
	values := r.URL.Query()
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, apperr.New(apperr.CodeInvalidRequest, "limit must be an integer")
		}
		q.Limit = n
	}
	if v := values.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, apperr.New(apperr.CodeInvalidRequest, "before must be an integer")
		}
		q.BeforeID = n
	}
	return q, nil
}

// getTransaction hides transactions the caller is not a party to.
func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	t, err := s.deps.Ledger.GetTransaction(r.Context(), p["transaction_number"])
	if err != nil {
		return err
	}
	if !s.deps.Ledger.Involves(t, acct.Number) {
		return ledger.ErrTransactionNotFound
	}
	writeJSON(w, http.StatusOK, t)
	return nil
}

// --- loans ---

type amountBody struct {
	Amount money.Amount `json:"amount"`
}

func (s *Server) originate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body amountBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	l, err := s.deps.Loans.Originate(r.Context(), acct.Number, body.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, l)
	return nil
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	loans, err := s.deps.Loans.ListLoans(r.Context(), acct.Number)
	if err != nil {
		return err
	}
	if loans == nil {
		loans = []loan.Loan{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loans": loans})
	return nil
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	d, err := s.deps.Loans.GetLoan(r.Context(), acct.Number, p["loan_number"])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, d)
	return nil
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	var body amountBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	acct, err := s.callerAccount(r)
	if err != nil {
		return err
	}
	rep, err := s.deps.Loans.Repay(r.Context(), p["loan_number"], acct.Number, body.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rep)
	return nil
}

// --- interbank ---

// receiveDeposit credits a transfer another bank has already debited. The
// caller must name itself and match the deposit's from_bank.
func (s *Server) receiveDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	if s.deps.Interbank == nil {
		return interbank.ErrUnknownBank
	}
	var d interbank.Deposit
	if err := decodeBody(r, &d); err != nil {
		return err
	}
	caller := r.Header.Get(headerBank)
	if caller == "" {
		return errNoBank
	}
	if caller != d.FromBank {
		return errForbidden
	}
	t, err := s.deps.Interbank.ReceiveDeposit(r.Context(), d)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, t)
	return nil
}

// --- simulation & admin ---

func (s *Server) startSimulation(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req simulation.StartRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	st, err := s.deps.Simulation.Start(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, st)
	return nil
}

func (s *Server) simulationStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	writeJSON(w, http.StatusOK, s.deps.Simulation.Status())
	return nil
}

func (s *Server) endSimulation(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	st, err := s.deps.Simulation.End(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, st)
	return nil
}

func (s *Server) now(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	st := s.deps.Simulation.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"now":     st.Now,
		"running": st.Running,
	})
	return nil
}

type rateBody struct {
	InterestRate money.Rate `json:"interest_rate"`
}

type capBody struct {
	LoanCap money.Amount `json:"loan_cap"`
}

type bankCapBody struct {
	BankLoanCap money.Amount `json:"bank_loan_cap"`
}

func (s *Server) setInterestRate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body rateBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if err := s.deps.Loans.SetInterestRate(body.InterestRate); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.deps.Loans.Settings())
	return nil
}

func (s *Server) setLoanCap(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body capBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if err := s.deps.Loans.SetLoanCap(body.LoanCap); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.deps.Loans.Settings())
	return nil
}

func (s *Server) setBankLoanCap(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var body bankCapBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if err := s.deps.Loans.SetBankLoanCap(body.BankLoanCap); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.deps.Loans.Settings())
	return nil
}
