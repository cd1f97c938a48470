package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"atm-ledger/internal/service"
	"atm-ledger/internal/validator"
	"atm-ledger/models"
)

const historyPageSize = 10

const helpText = `Commands:
  login <user_id> <pin>
  logout
  balance
  deposit <amount>
  withdraw <amount>
  transfer <account_id> <amount>
  pin <current> <new> <confirm>
  history [count]
  summary
  unlock <user_id>   (operator only)
  help
  quit`

// console is a line-oriented driver over one ledger session.
type console struct {
	ledger service.LedgerService
	in     io.Reader
	out    io.Writer

	accounts service.AccountService
	operator string
}

func newConsole(ledger service.LedgerService, in io.Reader, out io.Writer) *console {
	return &console{ledger: ledger, in: in, out: out}
}

// enableOperator lets the account owned by operatorUserID clear lockouts.
func (c *console) enableOperator(accounts service.AccountService, operatorUserID string) {
	c.accounts = accounts
	c.operator = operatorUserID
}

// Run reads commands until quit, end of input or ctx is cancelled.
func (c *console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	fmt.Fprintln(c.out, "Welcome to the ATM. Type 'help' for commands.")
	c.prompt()

	for {
		select {
		case <-ctx.Done():
			c.ledger.Logout()
			fmt.Fprintln(c.out, "\nSession terminated.")
			return nil
		case line, ok := <-lines:
			if !ok {
				c.ledger.Logout()
				return <-readErr
			}
			if !c.handle(ctx, line) {
				c.ledger.Logout()
				fmt.Fprintln(c.out, "Thank you for banking with us.")
				return nil
			}
			c.prompt()
		}
	}
}

func (c *console) prompt() {
	if id, ok := c.ledger.CurrentAccountID(); ok {
		fmt.Fprintf(c.out, "[%s]> ", validator.MaskAccountID(id))
		return
	}
	fmt.Fprint(c.out, "> ")
}

// handle runs one command line. It returns false when the user quits.
func (c *console) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	args := fields[1:]
	var err error

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(c.out, helpText)
	case "login":
		err = c.login(ctx, args)
	case "logout":
		c.ledger.Logout()
		fmt.Fprintln(c.out, "Logged out.")
	case "balance":
		err = c.balance(ctx)
	case "deposit":
		err = c.deposit(ctx, args)
	case "withdraw":
		err = c.withdraw(ctx, args)
	case "transfer":
		err = c.transfer(ctx, args)
	case "pin":
		err = c.changePIN(ctx, args)
	case "history":
		err = c.history(ctx, args)
	case "summary":
		err = c.summary(ctx)
	case "unlock":
		err = c.unlock(ctx, args)
	default:
		err = fmt.Errorf("unknown command %q, type 'help'", fields[0])
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return true
}

func expectArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (c *console) login(ctx context.Context, args []string) error {
	if err := expectArgs(args, 2, "login <user_id> <pin>"); err != nil {
		return err
	}

	ok, err := c.ledger.Login(ctx, validator.SanitizeInput(args[0]), strings.TrimSpace(args[1]))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invalid credentials")
	}

	summary, err := c.ledger.AccountSummary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Welcome, %s!\n", summary.HolderName)
	return nil
}

func (c *console) balance(ctx context.Context) error {
	balance, err := c.ledger.CheckBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Balance: %s (minimum %s)\n", balance.StringFixed(2), c.ledger.MinimumBalance().StringFixed(2))
	return nil
}

func (c *console) deposit(ctx context.Context, args []string) error {
	if err := expectArgs(args, 1, "deposit <amount>"); err != nil {
		return err
	}
	amount, err := validator.ParseAmount(args[0])
	if err != nil {
		return err
	}

	txn, err := c.ledger.Deposit(ctx, amount)
	if err != nil {
		return err
	}
	c.printReceipt(txn)
	return nil
}

func (c *console) withdraw(ctx context.Context, args []string) error {
	if err := expectArgs(args, 1, "withdraw <amount>"); err != nil {
		return err
	}
	amount, err := validator.ParseAmount(args[0])
	if err != nil {
		return err
	}

	txn, err := c.ledger.Withdraw(ctx, amount)
	if err != nil {
		return err
	}
	c.printReceipt(txn)
	return nil
}

func (c *console) transfer(ctx context.Context, args []string) error {
	if err := expectArgs(args, 2, "transfer <account_id> <amount>"); err != nil {
		return err
	}
	amount, err := validator.ParseAmount(args[1])
	if err != nil {
		return err
	}

	txn, err := c.ledger.Transfer(ctx, strings.ToUpper(validator.SanitizeInput(args[0])), amount)
	if err != nil {
		return err
	}
	c.printReceipt(txn)
	return nil
}

func (c *console) changePIN(ctx context.Context, args []string) error {
	if err := expectArgs(args, 3, "pin <current> <new> <confirm>"); err != nil {
		return err
	}

	if err := c.ledger.ChangePIN(ctx, args[0], args[1], args[2]); err != nil {
		return err
	}

	c.ledger.Logout()
	fmt.Fprintln(c.out, "PIN changed. Please login again with your new PIN.")
	return nil
}

func (c *console) history(ctx context.Context, args []string) error {
	limit := historyPageSize
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("count must be a non-negative number")
		}
		limit = n
	}

	txns, err := c.ledger.TransactionHistory(ctx, limit)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		fmt.Fprintln(c.out, "No transactions found.")
		return nil
	}

	// newest first
	for i := len(txns) - 1; i >= 0; i-- {
		t := txns[i]
		fmt.Fprintf(c.out, "%s  %-14s %12s  bal %12s  %s\n",
			t.Timestamp.Format("2006-01-02 15:04:05"), t.Type, t.Amount.StringFixed(2), t.BalanceAfter.StringFixed(2), t.Description)
	}
	return nil
}

func (c *console) summary(ctx context.Context) error {
	s, err := c.ledger.AccountSummary(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Account:          %s\n", s.AccountID)
	fmt.Fprintf(c.out, "Holder:           %s\n", s.HolderName)
	fmt.Fprintf(c.out, "Type:             %s\n", s.AccountType.DisplayName())
	fmt.Fprintf(c.out, "Balance:          %s\n", s.Balance.StringFixed(2))
	fmt.Fprintf(c.out, "Available:        %s\n", s.AvailableBalance.StringFixed(2))
	fmt.Fprintf(c.out, "Daily limit:      %s\n", s.DailyLimit.StringFixed(2))
	fmt.Fprintf(c.out, "Withdrawn today:  %s\n", s.WithdrawnToday.StringFixed(2))
	fmt.Fprintf(c.out, "Remaining today:  %s\n", s.RemainingLimit.StringFixed(2))
	return nil
}

func (c *console) unlock(ctx context.Context, args []string) error {
	if err := expectArgs(args, 1, "unlock <user_id>"); err != nil {
		return err
	}
	if c.accounts == nil || c.operator == "" {
		return fmt.Errorf("unlock is not enabled")
	}

	id, ok := c.ledger.CurrentAccountID()
	if !ok {
		return fmt.Errorf("No active session. Please login first.")
	}
	session, err := c.accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if session.UserID != c.operator {
		return fmt.Errorf("unlock requires the operator account")
	}

	userID := validator.SanitizeInput(args[0])
	if err := c.accounts.UnlockAccount(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Account for %s unlocked.\n", userID)
	return nil
}

func (c *console) printReceipt(txn *models.Transaction) {
	fmt.Fprintf(c.out, "%s of %s completed. Balance: %s (ref %s)\n",
		txn.Description, txn.Amount.StringFixed(2), txn.BalanceAfter.StringFixed(2), txn.TransactionID.String()[:8])
}
