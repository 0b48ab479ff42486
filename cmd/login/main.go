package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/evalapi"
)

// A small operator tool: authenticates against the evaluation service and
// prints the upstream access token, for poking the API with curl.
func main() {
	cfg := config.Load()
	eval := evalapi.New(cfg.EvalAPIURL)

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Evaluation Service Login ===")
	fmt.Printf("API: %s\n", cfg.EvalAPIURL)

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if password == "" {
		fmt.Println("Error: Password is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := eval.Login(ctx, email, password)
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAccess token:")
	fmt.Println(resp.AccessToken)
}
