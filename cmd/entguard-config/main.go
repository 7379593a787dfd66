package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/entguard"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("entguard-config - Configuration tool for entguard")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  entguard-config convert <input> <output>  - Convert between formats")
	fmt.Println("  entguard-config validate <file>           - Validate configuration")
	fmt.Println("  entguard-config stats <file>              - Show configuration statistics")
	fmt.Println("  entguard-config apply <file>              - Dry-run apply against in-memory stores")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: entguard-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: entguard-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	st := cfg.Stats()
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:       %d\n", cfg.Version)
	fmt.Printf("  Organizations: %d\n", st.Organizations)
	fmt.Printf("  Roles:         %d\n", st.Roles)
	fmt.Printf("  Policies:      %d\n", st.Policies)
	fmt.Printf("  Memberships:   %d\n", st.Memberships)
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: entguard-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	st := cfg.Stats()
	fmt.Println("Components:")
	fmt.Printf("  Organizations: %d\n", st.Organizations)
	fmt.Printf("  Roles:         %d\n", st.Roles)
	fmt.Printf("  Memberships:   %d\n", st.Memberships)
	fmt.Printf("  Assignments:   %d\n", st.Assignments)
	fmt.Printf("  Policies:      %d\n", st.Policies)
	fmt.Printf("  Scope rules:   %d\n", st.ScopeRules)
	fmt.Printf("  Field masks:   %d\n", st.FieldMasks)
	fmt.Printf("  Entity types:  %d\n", st.EntityTypes)
	fmt.Printf("  Tool access:   %d\n", st.ToolAccess)
	fmt.Println()

	if st.Policies > 0 {
		allowCount := 0
		denyCount := 0
		for _, p := range cfg.Policies {
			if p.Effect == entguard.EffectAllow {
				allowCount++
			} else {
				denyCount++
			}
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Allow policies: %d\n", allowCount)
		fmt.Printf("  Deny policies:  %d\n", denyCount)
	}
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: entguard-config apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	store := entguard.NewMemoryStore()
	if err := cfg.Apply(context.Background(), store); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	st := cfg.Stats()
	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Roles loaded:    %d\n", st.Roles)
	fmt.Printf("  Policies loaded: %d\n", st.Policies)
	fmt.Printf("  Tools loaded:    %d\n", st.ToolAccess)
}

func loadConfig(filename string) (*entguard.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	loader := entguard.NewConfigLoader()
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext)
	}
}

func saveConfig(cfg *entguard.Config, filename string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
