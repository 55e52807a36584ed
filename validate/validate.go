// Command validate provides a small CLI that validates user directory JSON
// files, by default those in the ../data directory. It checks:
//   - JSON structure: the file is an array of user objects
//   - Ids are positive and unique
//   - name, email, address and phone are present and non-blank
//   - Emails contain a local part and a domain
//
// Pass file paths as arguments to validate specific files instead.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/mcp-training/userdirectory/core/service"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateUsersFile loads and validates a single users JSON file.
func validateUsersFile(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	var users []service.User
	if err := json.Unmarshal(data, &users); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}

	seen := make(map[int]int, len(users))
	maxID := 0
	for i, u := range users {
		pos := i + 1
		if u.ID <= 0 {
			result.fail("User #%d: id must be positive, got %d", pos, u.ID)
		} else if first, dup := seen[u.ID]; dup {
			result.fail("User #%d: duplicate id %d (first used by user #%d)", pos, u.ID, first)
		} else {
			seen[u.ID] = pos
		}
		if u.ID > maxID {
			maxID = u.ID
		}

		fields := service.NewUser{Name: u.Name, Email: u.Email, Address: u.Address, Phone: u.Phone}
		if err := fields.Validate(); err != nil {
			result.fail("User #%d (id %d): %v", pos, u.ID, err)
		}
		if email := strings.TrimSpace(u.Email); email != "" && !validEmail(email) {
			result.fail("User #%d (id %d): invalid email %q", pos, u.ID, u.Email)
		}
	}

	// Add informational data
	if result.Valid {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Users: %d", len(users)))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Next id: %d", maxID+1))
		if maxID != len(users) {
			result.Errors = append(result.Errors, fmt.Sprintf("✓ Ids are sparse: highest %d for %d users", maxID, len(users)))
		}
	}

	return result
}

// validEmail accepts local@domain with a dot somewhere in the domain
func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// main validates each file named on the command line, or every *.json in
// ../data, printing a concise report and exiting with non-zero status if any
// are invalid.
func main() {
	files := os.Args[1:]
	if len(files) == 0 {
		var err error
		files, err = filepath.Glob(filepath.Join("../data", "*.json"))
		if err != nil {
			fmt.Printf("Error finding user files: %v\n", err)
			os.Exit(1)
		}
	}

	allValid := true
	for _, file := range files {
		result := validateUsersFile(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All user files are valid!")
	} else {
		fmt.Println("❌ Some user files have errors")
		os.Exit(1)
	}
}
