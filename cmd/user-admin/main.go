package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/INLOpen/nexuslog/auth"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addUserFile := addCmd.String("file", "users.yaml", "Path to the user file.")
	addUsername := addCmd.String("username", "", "Username to add.")
	addRole := addCmd.String("role", auth.RoleReader, "Role for the new user ('reader' or 'writer').")

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listUserFile := listCmd.String("file", "users.yaml", "Path to the user file.")

	delCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	delUserFile := delCmd.String("file", "users.yaml", "Path to the user file.")
	delUsername := delCmd.String("username", "", "Username to delete.")

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		handleAdd(addCmd, *addUserFile, *addUsername, *addRole)
	case "list":
		listCmd.Parse(os.Args[2:])
		handleList(*listUserFile)
	case "delete":
		delCmd.Parse(os.Args[2:])
		handleDelete(delCmd, *delUserFile, *delUsername)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: user-admin <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  add    - Add a new user")
	fmt.Println("  list   - List all users")
	fmt.Println("  delete - Delete a user")
	fmt.Println("\nUse 'user-admin <command> -h' for more information on a specific command.")
}

func readPassword(prompt string) string {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		os.Exit(1)
	}
	return string(b)
}

func handleAdd(fs *flag.FlagSet, file, username, role string) {
	if username == "" {
		fmt.Println("Error: -username is required.")
		fs.Usage()
		os.Exit(1)
	}
	if !auth.ValidRole(role) {
		fmt.Printf("Error: -role must be either '%s' or '%s'.\n", auth.RoleReader, auth.RoleWriter)
		fs.Usage()
		os.Exit(1)
	}

	users, err := auth.ReadUserFile(file)
	if err != nil {
		fmt.Printf("Error reading user file: %v\n", err)
		os.Exit(1)
	}
	if _, exists := users[username]; exists {
		fmt.Printf("Error: User '%s' already exists.\n", username)
		os.Exit(1)
	}

	password := readPassword("Enter password: ")
	if password == "" {
		fmt.Println("Error: Password must not be empty.")
		os.Exit(1)
	}
	if password != readPassword("Confirm password: ") {
		fmt.Println("Error: Passwords do not match.")
		os.Exit(1)
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("Error hashing password: %v\n", err)
		os.Exit(1)
	}

	users[username] = auth.User{
		Username:     username,
		PasswordHash: hashedPassword,
		Role:         role,
	}
	if err := auth.WriteUserFile(file, users); err != nil {
		fmt.Printf("Error writing user file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully added user '%s' with role '%s' to %s.\n", username, role, file)
}

func handleList(file string) {
	users, err := auth.ReadUserFile(file)
	if err != nil {
		fmt.Printf("Error reading user file: %v\n", err)
		os.Exit(1)
	}

	if len(users) == 0 {
		fmt.Println("No users found.")
		return
	}

	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Users:")
	fmt.Println("------")
	for _, name := range names {
		fmt.Printf("- Username: %s, Role: %s\n", name, users[name].Role)
	}
}

func handleDelete(fs *flag.FlagSet, file, username string) {
	if username == "" {
		fmt.Println("Error: -username is required.")
		fs.Usage()
		os.Exit(1)
	}

	users, err := auth.ReadUserFile(file)
	if err != nil {
		fmt.Printf("Error reading user file: %v\n", err)
		os.Exit(1)
	}

	if _, exists := users[username]; !exists {
		fmt.Printf("Error: User '%s' not found.\n", username)
		os.Exit(1)
	}

	delete(users, username)

	if err := auth.WriteUserFile(file, users); err != nil {
		fmt.Printf("Error writing user file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully deleted user '%s' from %s.\n", username, file)
}
