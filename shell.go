package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"library-circulation/identity"
	"library-circulation/library"
)

// session is one interactive shell. It remembers which user logged in
// through it and acts on their behalf.
type session struct {
	app  *app
	sc   *bufio.Scanner
	out  io.Writer
	user string

	// readPassword is swapped for a masked terminal read when stdin is a tty.
	readPassword func(out io.Writer, prompt string) (string, error)
}

func newSession(a *app, in io.Reader, out io.Writer) *session {
	s := &session{app: a, sc: bufio.NewScanner(in), out: out}
	s.readPassword = func(_ io.Writer, prompt string) (string, error) {
		v, ok := s.ask(prompt)
		if !ok {
			return "", io.EOF
		}
		return v, nil
	}
	return s
}

func (s *session) run() error {
	ctx := context.Background()

	fmt.Fprintln(s.out, "Welcome to the Library Circulation System!")
	s.printHelp()

	for {
		fmt.Fprint(s.out, "\n> ")
		if !s.sc.Scan() {
			break
		}
		cmd := strings.ToLower(strings.TrimSpace(s.sc.Text()))

		switch cmd {
		case "":
		case "help":
			s.printHelp()
		case "register":
			s.handleRegister()
		case "login":
			s.handleLogin()
		case "logout":
			s.handleLogout()
		case "change password":
			s.handleChangePassword()
		case "update profile":
			s.handleUpdateProfile(ctx)
		case "delete user":
			s.handleDeleteUser(ctx)
		case "list users":
			s.handleListUsers()
		case "issue card":
			s.handleIssueCard(ctx)
		case "renew card":
			s.handleRenewCard(ctx)
		case "my card":
			s.handleMyCard(ctx)
		case "update card":
			s.handleUpdateCard(ctx)
		case "add book":
			s.handleAddBook(ctx)
		case "update book":
			s.handleUpdateBook(ctx)
		case "delete book":
			s.handleDeleteBook(ctx)
		case "list books":
			s.handleListBooks(ctx)
		case "list available":
			s.handleListAvailable(ctx)
		case "search title":
			s.handleSearch(ctx, s.app.manager.Catalog.SearchByTitle, "Title contains: ")
		case "search author":
			s.handleSearch(ctx, s.app.manager.Catalog.SearchByAuthor, "Author contains: ")
		case "borrow":
			s.handleLending(ctx, s.app.manager.Lending.Borrow)
		case "return":
			s.handleLending(ctx, s.app.manager.Lending.Return)
		case "reserve":
			s.handleLending(ctx, s.app.manager.Lending.Reserve)
		case "cancel reservation":
			s.handleLending(ctx, s.app.manager.Lending.CancelReservation)
		case "history":
			s.handleHistory(ctx)
		case "exit", "quit":
			s.leave()
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(s.out, "Unknown command. Type 'help' to see the available commands.")
		}
	}
	s.leave()
	return s.sc.Err()
}

func (s *session) printHelp() {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  Account: register, login, logout, change password, update profile, delete user, list users")
	fmt.Fprintln(s.out, "  Card: issue card, renew card, my card, update card")
	fmt.Fprintln(s.out, "  Catalog: add book, update book, delete book, list books, list available, search title, search author")
	fmt.Fprintln(s.out, "  Circulation: borrow, return, reserve, cancel reservation, history")
	fmt.Fprintln(s.out, "  System: help, exit")
}

// ask prints prompt and reads one trimmed line. ok is false at end of input.
func (s *session) ask(prompt string) (string, bool) {
	fmt.Fprint(s.out, prompt)
	if !s.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.sc.Text()), true
}

func (s *session) loggedIn() bool {
	if s.user == "" {
		fmt.Fprintln(s.out, "Please log in first.")
		return false
	}
	return true
}

// leave logs the session's user out when the shell ends.
func (s *session) leave() {
	if s.user != "" {
		_ = s.app.users.Logout(s.user)
		s.user = ""
	}
}

func (s *session) fail(err error) {
	fmt.Fprintf(s.out, "Error: %v\n", err)
}

// ------------------ accounts ------------------

func (s *session) handleRegister() {
	username, ok := s.ask("Username: ")
	if !ok {
		return
	}
	email, ok := s.ask("Email: ")
	if !ok {
		return
	}
	password, err := s.readPassword(s.out, "Password: ")
	if err != nil {
		s.fail(err)
		return
	}
	confirm, err := s.readPassword(s.out, "Confirm password: ")
	if err != nil {
		s.fail(err)
		return
	}
	if password != confirm {
		fmt.Fprintln(s.out, "Error: passwords do not match")
		return
	}

	role := library.RoleUser
	if s.user != "" {
		if _, err := s.app.manager.Gate().Authorize(s.user, library.RoleAdmin); err == nil {
			answer, ok := s.ask("Role (USER/STAFF/ADMIN) [USER]: ")
			if !ok {
				return
			}
			if answer != "" {
				r, valid := library.ParseRole(answer)
				if !valid {
					fmt.Fprintf(s.out, "Error: unknown role %q\n", answer)
					return
				}
				role = r
			}
		}
	}

	err = s.app.users.Register(identity.Registration{
		Username: username,
		Password: password,
		Email:    email,
		Role:     role,
	})
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Registered %s as %s.\n", username, role)
}

func (s *session) handleLogin() {
	if s.user != "" {
		fmt.Fprintf(s.out, "Already logged in as %s. Log out first.\n", s.user)
		return
	}
	username, ok := s.ask("Username: ")
	if !ok {
		return
	}
	password, err := s.readPassword(s.out, "Password: ")
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.app.users.Login(username, password); err != nil {
		s.fail(err)
		return
	}
	s.user = username
	fmt.Fprintf(s.out, "Welcome, %s! You are now logged in.\n", username)
}

func (s *session) handleLogout() {
	if !s.loggedIn() {
		return
	}
	if err := s.app.users.Logout(s.user); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "%s has been logged out.\n", s.user)
	s.user = ""
}

func (s *session) handleChangePassword() {
	if !s.loggedIn() {
		return
	}
	current, err := s.readPassword(s.out, "Current password: ")
	if err != nil {
		s.fail(err)
		return
	}
	next, err := s.readPassword(s.out, "New password: ")
	if err != nil {
		s.fail(err)
		return
	}
	confirm, err := s.readPassword(s.out, "Confirm new password: ")
	if err != nil {
		s.fail(err)
		return
	}
	if next != confirm {
		fmt.Fprintln(s.out, "Error: passwords do not match")
		return
	}
	if err := s.app.users.ChangePassword(s.user, current, next); err != nil {
		s.fail(err)
		return
	}
	s.user = ""
	fmt.Fprintln(s.out, "Password changed. Please log in again.")
}

// handleUpdateProfile changes the username and email of the session's user.
// A library card follows the rename. The user has to log in again.
func (s *session) handleUpdateProfile(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	current, _ := s.app.users.Get(s.user)
	username, ok := s.ask(fmt.Sprintf("New username [%s]: ", current.Username))
	if !ok {
		return
	}
	if username == "" {
		username = current.Username
	}
	email, ok := s.ask(fmt.Sprintf("New email [%s]: ", current.Email))
	if !ok {
		return
	}
	if email == "" {
		email = current.Email
	}

	err := s.app.manager.Lending.RenameHolder(ctx, s.user, username, func() error {
		return s.app.users.UpdateUser(s.user, identity.Profile{Username: username, Email: email})
	})
	if err != nil {
		s.fail(err)
		return
	}
	s.user = ""
	fmt.Fprintf(s.out, "Profile updated. Please log in again as %s.\n", username)
}

// handleDeleteUser removes an identity together with its library card.
// Deleting someone else requires STAFF; a card with loans or reservations
// blocks the deletion.
func (s *session) handleDeleteUser(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	target, ok := s.ask("Username to delete: ")
	if !ok {
		return
	}
	if target != s.user {
		if _, err := s.app.manager.Gate().Authorize(s.user, library.RoleStaff); err != nil {
			s.fail(err)
			return
		}
	}
	if _, exists := s.app.users.Get(target); !exists {
		s.fail(identity.ErrUnknownUser)
		return
	}
	answer, ok := s.ask(fmt.Sprintf("Are you sure you want to delete user '%s'? This action cannot be undone. (y/n): ", target))
	if !ok {
		return
	}
	if strings.ToLower(answer) != "y" {
		fmt.Fprintln(s.out, "Deletion cancelled.")
		return
	}

	deleteUser := func() error { return s.app.users.Delete(target) }
	err := s.app.manager.Lending.RevokeCard(ctx, s.user, target, deleteUser)
	if errors.Is(err, library.ErrNoLibraryCard) {
		err = deleteUser()
	}
	if err != nil {
		s.fail(err)
		return
	}
	if target == s.user {
		s.user = ""
	}
	fmt.Fprintf(s.out, "User '%s' has been deleted.\n", target)
}

func (s *session) handleListUsers() {
	if !s.loggedIn() {
		return
	}
	if _, err := s.app.manager.Gate().Authorize(s.user, library.RoleStaff); err != nil {
		s.fail(err)
		return
	}
	users := s.app.users.List()
	fmt.Fprintf(s.out, "%-16s %-30s %-6s %s\n", "Username", "Email", "Role", "Logged in")
	fmt.Fprintln(s.out, strings.Repeat("-", 65))
	for _, u := range users {
		fmt.Fprintf(s.out, "%-16s %-30s %-6s %t\n", truncateString(u.Username, 16), truncateString(u.Email, 30), u.Role, u.LoggedIn)
	}
}

// ------------------ cards ------------------

func (s *session) handleIssueCard(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	holder, ok := s.askHolder(library.CardHolder{})
	if !ok {
		return
	}
	card, err := s.app.manager.Lending.IssueCard(ctx, s.user, holder)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Issued library card %s, valid until %s.\n", card.Number, card.RenewalDate.Format(time.DateOnly))
}

func (s *session) handleUpdateCard(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	card, err := s.app.manager.Lending.Card(ctx, s.user)
	if err != nil {
		s.fail(err)
		return
	}
	holder, ok := s.askHolder(card.Details)
	if !ok {
		return
	}
	if _, err := s.app.manager.Lending.UpdateCardHolder(ctx, s.user, holder); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintln(s.out, "Card details updated.")
}

// askHolder prompts for the name and address on a card. An empty answer
// keeps the value from def.
func (s *session) askHolder(def library.CardHolder) (library.CardHolder, bool) {
	h := def
	for _, f := range []struct {
		label string
		dst   *string
	}{
		{"First name", &h.FirstName},
		{"Last name", &h.LastName},
		{"Street", &h.Address.Street},
		{"City", &h.Address.City},
		{"State", &h.Address.State},
		{"Zipcode", &h.Address.Zipcode},
	} {
		v, ok := s.ask(withDefault(f.label, *f.dst))
		if !ok {
			return h, false
		}
		if v != "" {
			*f.dst = v
		}
	}
	return h, true
}

func (s *session) handleRenewCard(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	answer, ok := s.ask("Force renewal even if the card is still valid? (y/N): ")
	if !ok {
		return
	}
	report, err := s.app.manager.Lending.RenewCard(ctx, s.user, strings.ToLower(answer) == "y")
	if err != nil {
		s.fail(err)
		return
	}
	if !report.Renewed {
		fmt.Fprintf(s.out, "Card is still valid until %s; nothing renewed.\n", report.Before.Format(time.DateOnly))
		return
	}
	fmt.Fprintf(s.out, "Card renewed: %s -> %s.\n", report.Before.Format(time.DateOnly), report.After.Format(time.DateOnly))
}

func (s *session) handleMyCard(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	card, err := s.app.manager.Lending.Card(ctx, s.user)
	if err != nil {
		s.fail(err)
		return
	}
	status := "active"
	if card.Expired {
		status = "expired"
	}
	fmt.Fprintf(s.out, "Card:     %s (%s)\n", card.Number, status)
	if card.Implicit {
		fmt.Fprintln(s.out, "Holder:   not on file yet, use 'issue card' or 'update card' to add it")
	} else {
		fmt.Fprintf(s.out, "Holder:   %s %s\n", card.Details.FirstName, card.Details.LastName)
		fmt.Fprintf(s.out, "Address:  %s, %s, %s %s\n", card.Details.Address.Street, card.Details.Address.City, card.Details.Address.State, card.Details.Address.Zipcode)
	}
	fmt.Fprintf(s.out, "Issued:   %s\n", card.IssueDate.Format(time.DateOnly))
	fmt.Fprintf(s.out, "Renewal:  %s\n", card.RenewalDate.Format(time.DateOnly))
	fmt.Fprintf(s.out, "Borrowed: %d/%d %s\n", len(card.Borrowed), library.MaxBorrow, listOrNone(card.Borrowed))
	fmt.Fprintf(s.out, "Reserved: %s\n", listOrNone(card.Reserved))
}

// ------------------ catalog ------------------

func (s *session) handleAddBook(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	key, ok := s.ask("ISBN: ")
	if !ok {
		return
	}
	details, ok := s.askDetails(library.ItemDetails{})
	if !ok {
		return
	}
	item, err := s.app.manager.Catalog.AddItem(ctx, s.user, key, details)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Added '%s' (%s).\n", item.Title, item.Key)
}

func (s *session) handleUpdateBook(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	key, ok := s.ask("ISBN: ")
	if !ok {
		return
	}
	current, err := s.app.manager.Catalog.Get(ctx, s.user, key)
	if err != nil {
		s.fail(err)
		return
	}
	details, ok := s.askDetails(current.ItemDetails)
	if !ok {
		return
	}
	item, err := s.app.manager.Catalog.UpdateItem(ctx, s.user, key, details)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Updated '%s' (%s).\n", item.Title, item.Key)
}

// askDetails prompts for every descriptive attribute. An empty answer keeps
// the value from def.
func (s *session) askDetails(def library.ItemDetails) (library.ItemDetails, bool) {
	d := def
	for _, f := range []struct {
		label string
		dst   *string
	}{{"Title", &d.Title}, {"Author", &d.Author}} {
		v, ok := s.ask(withDefault(f.label, *f.dst))
		if !ok {
			return d, false
		}
		if v != "" {
			*f.dst = v
		}
	}

	year := ""
	if d.PublishedYear != 0 {
		year = strconv.Itoa(d.PublishedYear)
	}
	v, ok := s.ask(withDefault("Published year", year))
	if !ok {
		return d, false
	}
	if v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Fprintf(s.out, "Invalid year %q, keeping %d.\n", v, d.PublishedYear)
		} else {
			d.PublishedYear = n
		}
	}

	v, ok = s.ask(withDefault("Genre", d.Genre))
	if !ok {
		return d, false
	}
	if v != "" {
		d.Genre = v
	}
	return d, true
}

func (s *session) handleDeleteBook(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	key, ok := s.ask("ISBN: ")
	if !ok {
		return
	}
	if err := s.app.manager.Catalog.DeleteItem(ctx, s.user, key); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Deleted %s.\n", key)
}

func (s *session) handleListBooks(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	items, err := s.app.manager.Catalog.ListAll(ctx, s.user)
	if err != nil {
		s.fail(err)
		return
	}
	s.printItems(items, "No books in library.")
}

func (s *session) handleListAvailable(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	items, err := s.app.manager.Catalog.ListAvailable(ctx, s.user)
	if err != nil {
		s.fail(err)
		return
	}
	s.printItems(items, "No books available.")
}

type searchFunc func(ctx context.Context, actorKey, q string) ([]library.ItemView, error)

func (s *session) handleSearch(ctx context.Context, search searchFunc, prompt string) {
	if !s.loggedIn() {
		return
	}
	q, ok := s.ask(prompt)
	if !ok {
		return
	}
	items, err := search(ctx, s.user, q)
	if err != nil {
		s.fail(err)
		return
	}
	s.printItems(items, "No matching books.")
}

func (s *session) printItems(items []library.ItemView, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(s.out, empty)
		return
	}
	fmt.Fprintf(s.out, "%-16s %-30s %-20s %-6s %-12s %s\n", "ISBN", "Title", "Author", "Year", "Genre", "Status")
	fmt.Fprintln(s.out, strings.Repeat("-", 110))
	for _, it := range items {
		status := "Available"
		switch it.State {
		case library.StateBorrowed:
			status = "Borrowed by " + it.Holder
		case library.StateReserved:
			status = "Reserved by " + it.Holder
		}
		fmt.Fprintf(s.out, "%-16s %-30s %-20s %-6d %-12s %s\n",
			truncateString(it.Key, 16),
			truncateString(it.Title, 30),
			truncateString(it.Author, 20),
			it.PublishedYear,
			truncateString(it.Genre, 12),
			status)
	}
}

// ------------------ circulation ------------------

type lendingFunc func(ctx context.Context, actorKey, itemKey string) (library.Receipt, error)

func (s *session) handleLending(ctx context.Context, op lendingFunc) {
	if !s.loggedIn() {
		return
	}
	key, ok := s.ask("ISBN: ")
	if !ok {
		return
	}
	r, err := op(ctx, s.user, key)
	if err != nil {
		s.fail(err)
		return
	}

	switch r.Op {
	case library.OpBorrow:
		if r.Converted {
			fmt.Fprintf(s.out, "Borrowed %s. Your reservation has been converted into the loan.\n", r.ItemKey)
		} else {
			fmt.Fprintf(s.out, "Borrowed %s.\n", r.ItemKey)
		}
	case library.OpReturn:
		fmt.Fprintf(s.out, "Returned %s.\n", r.ItemKey)
	case library.OpReserve:
		fmt.Fprintf(s.out, "Reserved %s.\n", r.ItemKey)
	case library.OpCancelReservation:
		fmt.Fprintf(s.out, "Cancelled reservation of %s.\n", r.ItemKey)
	}
	fmt.Fprintf(s.out, "Transaction %s at %s\n", r.TxnID, r.At.Format(time.DateTime))
}

func (s *session) handleHistory(ctx context.Context) {
	if !s.loggedIn() {
		return
	}
	if _, err := s.app.manager.Gate().Authorize(s.user, library.RoleStaff); err != nil {
		s.fail(err)
		return
	}
	if s.app.ledger == nil {
		fmt.Fprintln(s.out, "The ledger is disabled.")
		return
	}
	key, ok := s.ask("ISBN: ")
	if !ok {
		return
	}
	recs, err := s.app.ledger.ItemHistory(ctx, key)
	if err != nil {
		s.fail(err)
		return
	}
	printHistory(s.out, recs)
}

// withDefault renders a prompt that shows the value kept on empty input.
func withDefault(label, cur string) string {
	if cur == "" {
		return label + ": "
	}
	return fmt.Sprintf("%s [%s]: ", label, cur)
}

func listOrNone(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return strings.Join(keys, ", ")
}
