package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Admin accounts cannot be self-registered; this utility prints the insert
// for provisioning one directly in mongo.
// Usage: go run scripts/create_admin.go <name> <email> <password>
func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run scripts/create_admin.go <name> <email> <password>")
		fmt.Println("Example: go run scripts/create_admin.go \"Ops Admin\" ops@swifthaul.app 0i2rinbcp12yc31h")
		os.Exit(1)
	}

	name := os.Args[1]
	email := os.Args[2]
	password := os.Args[3]

	// Generate bcrypt hash
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Error generating hash: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Bcrypt Hash: %s\n", string(hashedPassword))
	fmt.Printf("\nTo provision in MongoDB, run:\n")
	fmt.Printf("db.users.insertOne({\n")
	fmt.Printf("  user: {\n")
	fmt.Printf("    name: \"%s\",\n", name)
	fmt.Printf("    email: \"%s\",\n", email)
	fmt.Printf("    password: \"%s\",\n", string(hashedPassword))
	fmt.Printf("    role: \"admin\",\n")
	fmt.Printf("    phone: \"\",\n")
	fmt.Printf("    assignedVehicleId: \"\",\n")
	fmt.Printf("    profilePicture: \"\",\n")
	fmt.Printf("    active: true,\n")
	fmt.Printf("    createdAt: new Date(),\n")
	fmt.Printf("    updatedAt: new Date()\n")
	fmt.Printf("  },\n")
	fmt.Printf("  __v: 0\n")
	fmt.Printf("})\n")
}
