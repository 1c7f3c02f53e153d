package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Batch-submits a directory of site photos to the assessment service.
//
// Usage: go run submit_images.go <dir-with-images> [service-url] [model-id]

const defaultServiceURL = "http://localhost:8080"

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

type assessmentResult struct {
	Created bool `json:"created"`
	Data    struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		HazardCount  int    `json:"hazard_count"`
		HighestLevel string `json:"highest_level"`
	} `json:"data"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run submit_images.go <dir-with-images> [service-url] [model-id]")
		fmt.Println("Example: go run submit_images.go ./site-photos http://localhost:8080 gemini-2.5-flash")
		os.Exit(1)
	}

	dir := os.Args[1]
	serviceURL := defaultServiceURL
	if len(os.Args) > 2 {
		serviceURL = strings.TrimRight(os.Args[2], "/")
	}
	model := ""
	if len(os.Args) > 3 {
		model = os.Args[3]
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Printf("Error reading directory: %v\n", err)
		os.Exit(1)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageContentTypes[ext]; ok {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}

	if len(images) == 0 {
		fmt.Println("No JPEG/PNG/WEBP images found.")
		os.Exit(1)
	}

	fmt.Printf("Submitting %d image(s) to %s\n", len(images), serviceURL)
	fmt.Println(strings.Repeat("=", 70))

	successCount, reusedCount, failCount := 0, 0, 0
	for i, path := range images {
		result, status, err := submitImage(serviceURL, path, model)
		if err != nil {
			fmt.Printf("✗ [%d/%d] %s: %v\n", i+1, len(images), filepath.Base(path), err)
			failCount++
			continue
		}

		if result.Created {
			successCount++
		} else {
			reusedCount++
		}
		fmt.Printf("✓ [%d/%d] %s -> %s (status %d, hazards: %d, level: %s)\n",
			i+1, len(images), filepath.Base(path),
			result.Data.ID, status, result.Data.HazardCount, result.Data.HighestLevel)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Done: %d new, %d already assessed, %d failed\n", successCount, reusedCount, failCount)
}

func submitImage(serviceURL, path, model string) (*assessmentResult, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read image: %w", err)
	}

	contentType := imageContentTypes[strings.ToLower(filepath.Ext(path))]

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filepath.Base(path)))
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, 0, fmt.Errorf("failed to write image data: %w", err)
	}

	if model != "" {
		if err := writer.WriteField("model", model); err != nil {
			return nil, 0, fmt.Errorf("failed to write model field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequest("POST", serviceURL+"/api/v1/assessments", &body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	// Two analysis passes per hazard can take a while.
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result assessmentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, resp.StatusCode, nil
}
