package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/medstay/inbox/apiframework"
	"github.com/medstay/inbox/internal/apidoc"
	"gopkg.in/yaml.v3"
)

func main() {
	var outputDir string
	var version string

	flag.StringVar(&outputDir, "output", "docs", "The output directory for the generated OpenAPI document.")
	flag.StringVar(&version, "version", apiframework.GetVersion(), "The API version written into the document.")
	flag.Parse()

	doc, err := apidoc.Build(version)
	if err != nil {
		log.Fatal("Failed to build document:", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatal("Failed to create output directory:", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Fatal("Failed to marshal document:", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "openapi.json"), data, 0o644); err != nil {
		log.Fatal("Failed to write document:", err)
	}

	data, err = yaml.Marshal(doc)
	if err != nil {
		log.Fatal("Failed to marshal document:", err)
	}
	outputFilePath := filepath.Join(outputDir, "openapi.yaml")
	if err := os.WriteFile(outputFilePath, data, 0o644); err != nil {
		log.Fatal("Failed to write document:", err)
	}

	fmt.Printf("OpenAPI document written to %s\n", outputFilePath)
}
