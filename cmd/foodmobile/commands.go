package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/theDeemoonn/foodMobile/internal/utils"
	"github.com/theDeemoonn/foodMobile/restaurants"
	"github.com/theDeemoonn/foodMobile/session"
	"github.com/theDeemoonn/foodMobile/users"
)

type command struct {
	name         string
	summary      string
	needsSession bool
	run          func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "login", summary: "sign in with email and password", run: loginCmd},
	{name: "register", summary: "create an account", run: registerCmd},
	{name: "confirm", summary: "register and confirm the emailed code", run: confirmCmd},
	{name: "logout", summary: "sign out and forget stored credentials", run: logoutCmd},
	{name: "status", summary: "recover the stored session and show it", run: statusCmd},
	{name: "me", summary: "show the signed-in profile", needsSession: true, run: meCmd},
	{name: "update-me", summary: "edit the signed-in profile", needsSession: true, run: updateMeCmd},
	{name: "users", summary: "list people, with optional filters", needsSession: true, run: usersCmd},
	{name: "user", summary: "show one person by id", needsSession: true, run: userCmd},
	{name: "restaurants", summary: "list restaurants", needsSession: true, run: restaurantsCmd},
	{name: "create-restaurant", summary: "register a restaurant you own", needsSession: true, run: createRestaurantCmd},
	{name: "update-restaurant", summary: "edit a restaurant you own", needsSession: true, run: updateRestaurantCmd},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// credentialFlags adds the credential flags to flags, parses args and prompts
// for what is missing.
func credentialFlags(flags *pflag.FlagSet, args []string, withConfirm bool) (email, password, confirm string, err error) {
	flags.StringVarP(&email, "email", "e", "", "account email")
	flags.StringVarP(&password, "password", "p", "", "account password")
	if withConfirm {
		flags.StringVar(&confirm, "confirm-password", "", "password again, defaults to --password")
	}
	if err = flags.Parse(args); err != nil {
		return "", "", "", err
	}
	if email == "" {
		email = prompt("Email: ")
	}
	if password == "" {
		password = prompt("Password: ")
	}
	if withConfirm && confirm == "" {
		confirm = password
	}
	return email, password, confirm, nil
}

func prompt(label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

func loginCmd(ctx context.Context, a *app, args []string) error {
	email, password, _, err := credentialFlags(pflag.NewFlagSet("login", pflag.ContinueOnError), args, false)
	if err != nil {
		return err
	}
	a.session.SetEmail(email)
	a.session.SetPassword(password)
	if err := a.session.Login(ctx); err != nil {
		printFormErrors(a.session.State().Form)
		return err
	}
	fmt.Println(a.session.State().Message)
	return nil
}

func registerCmd(ctx context.Context, a *app, args []string) error {
	_, err := register(ctx, a, pflag.NewFlagSet("register", pflag.ContinueOnError), args)
	return err
}

func confirmCmd(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("confirm", pflag.ContinueOnError)
	code := flags.StringP("code", "c", "", "confirmation code, prompted for when empty")
	awaiting, err := register(ctx, a, flags, args)
	if err != nil || !awaiting {
		return err
	}
	if *code == "" {
		*code = prompt("Confirmation code: ")
	}
	if err := a.session.ConfirmEmail(ctx, *code); err != nil {
		return err
	}
	fmt.Println(a.session.State().Message)
	return nil
}

// register runs a registration and reports whether the backend now waits for
// an email confirmation code.
func register(ctx context.Context, a *app, flags *pflag.FlagSet, args []string) (bool, error) {
	email, password, confirm, err := credentialFlags(flags, args, true)
	if err != nil {
		return false, err
	}
	a.session.SetEmail(email)
	a.session.SetPassword(password)
	a.session.SetConfirmPassword(confirm)
	if err := a.session.Register(ctx); err != nil {
		printFormErrors(a.session.State().Form)
		return false, err
	}
	state := a.session.State()
	fmt.Println(state.Message)
	return state.Status == session.StatusAwaitingConfirmation, nil
}

func logoutCmd(ctx context.Context, a *app, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Println(a.session.State().Message)
	return nil
}

func statusCmd(ctx context.Context, a *app, _ []string) error {
	err := a.session.CheckAuth(ctx)
	state := a.session.State()
	fmt.Printf("status:        %s\n", state.Status)
	fmt.Printf("authenticated: %t\n", state.IsAuthenticated)
	if !state.AccessTokenExpiry.IsZero() {
		fmt.Printf("token expires: %s\n", state.AccessTokenExpiry.Local().Format("2006-01-02 15:04:05"))
	}
	if state.Message != "" {
		fmt.Printf("message:       %s\n", state.Message)
	}
	return err
}

func meCmd(ctx context.Context, a *app, _ []string) error {
	me, err := a.users.FetchMe(ctx)
	if err != nil {
		return err
	}
	return printJSON(me)
}

func updateMeCmd(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("update-me", pflag.ContinueOnError)
	name := flags.String("name", "", "first name")
	surname := flags.String("surname", "", "last name")
	age := flags.Int("age", 0, "age")
	gender := flags.String("gender", "", "gender")
	phone := flags.String("phone", "", "phone number")
	interests := flags.StringSlice("interests", nil, "interests, comma separated")
	description := flags.String("description", "", "about me")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Only flags given on the command line end up in the patch.
	patch := users.Patch{
		Name:        utils.Changed(flags, "name", *name),
		Surname:     utils.Changed(flags, "surname", *surname),
		Age:         utils.Changed(flags, "age", *age),
		Gender:      utils.Changed(flags, "gender", *gender),
		Phone:       utils.Changed(flags, "phone", *phone),
		Interests:   utils.Changed(flags, "interests", strings.Join(*interests, ", ")),
		Description: utils.Changed(flags, "description", *description),
	}
	if patch.IsEmpty() {
		return errors.New("nothing to update")
	}

	me, err := a.users.FetchMe(ctx)
	if err != nil {
		return err
	}
	updated, err := a.users.Update(ctx, me.ID, patch)
	if err != nil {
		return err
	}
	fmt.Printf("updated %s\n", updated.FullName())
	return nil
}

func usersCmd(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("users", pflag.ContinueOnError)
	var filter users.Filter
	flags.IntVar(&filter.MinAge, "min-age", 0, "minimum age")
	flags.IntVar(&filter.MaxAge, "max-age", 0, "maximum age")
	flags.StringVar(&filter.Gender, "gender", "", "gender, or all")
	flags.StringSliceVar(&filter.Interests, "interest", nil, "match any of these interests")
	flags.StringVarP(&filter.Query, "query", "q", "", "search name, surname and email")
	if err := flags.Parse(args); err != nil {
		return err
	}

	list, err := a.users.FetchAll(ctx)
	if err != nil {
		return err
	}
	for _, u := range filter.Apply(list) {
		fmt.Printf("%-36s  %-24s  %3d  %s\n", u.ID, u.FullName(), u.Age, strings.Join(u.InterestList(), ", "))
	}
	return nil
}

func userCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: foodmobile user <id>")
	}
	u, err := a.users.FetchOne(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(u)
}

func restaurantsCmd(ctx context.Context, a *app, _ []string) error {
	list, err := a.restaurants.FetchAll(ctx)
	if err != nil {
		return err
	}
	for i := range list {
		r := &list[i]
		rating := r.AverageRating()
		fmt.Printf("%-36s  %-24s  %-12s  %.1f (%d)\n", r.ID, r.Name, r.Category, rating.Rating, rating.Count)
	}
	return nil
}

func createRestaurantCmd(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("create-restaurant", pflag.ContinueOnError)
	var r restaurants.Restaurant
	flags.StringVar(&r.Name, "name", "", "restaurant name")
	flags.StringVar(&r.Email, "email", "", "contact email")
	flags.StringVar(&r.Category, "category", "", "cuisine category")
	flags.StringVar(&r.Address, "address", "", "street address")
	flags.StringVar(&r.Phone, "phone", "", "11 digit phone number")
	flags.StringVar(&r.OGRN, "ogrn", "", "13 digit OGRN")
	flags.StringVar(&r.INN, "inn", "", "10 digit INN")
	flags.StringVar(&r.Description, "description", "", "description")
	flags.StringVar(&r.Hours, "hours", "", "opening hours")
	flags.Float64Var(&r.AveragePrice, "average-price", 0, "average bill")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// The owner id comes from the signed-in profile.
	if _, err := a.users.FetchMe(ctx); err != nil {
		return err
	}
	created, err := a.restaurants.Create(ctx, r)
	if err != nil {
		return err
	}
	return printJSON(created)
}

func updateRestaurantCmd(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("update-restaurant", pflag.ContinueOnError)
	name := flags.String("name", "", "restaurant name")
	email := flags.String("email", "", "contact email")
	category := flags.String("category", "", "cuisine category")
	address := flags.String("address", "", "street address")
	phone := flags.String("phone", "", "11 digit phone number")
	description := flags.String("description", "", "description")
	hours := flags.String("hours", "", "opening hours")
	averagePrice := flags.Float64("average-price", 0, "average bill")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: foodmobile update-restaurant [flags] <id>")
	}

	patch := restaurants.Patch{
		Name:         utils.Changed(flags, "name", *name),
		Email:        utils.Changed(flags, "email", *email),
		Category:     utils.Changed(flags, "category", *category),
		Address:      utils.Changed(flags, "address", *address),
		Phone:        utils.Changed(flags, "phone", *phone),
		Description:  utils.Changed(flags, "description", *description),
		Hours:        utils.Changed(flags, "hours", *hours),
		AveragePrice: utils.Changed(flags, "average-price", *averagePrice),
	}
	updated, err := a.restaurants.Update(ctx, flags.Arg(0), patch)
	if err != nil {
		return err
	}
	return printJSON(updated)
}

func printFormErrors(f session.Form) {
	for _, msg := range []string{f.EmailError, f.PasswordError, f.ConfirmPasswordError} {
		if msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
