//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

func main() {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/checklist-v1.json", data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/checklist-v1.json")

	invData, err := schema.GenerateInventoryJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating inventory schema: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/inventory-v1.json", invData, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/inventory-v1.json")
}
