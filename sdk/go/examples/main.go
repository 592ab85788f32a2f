package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ChainGuard/sdk/go/chainguard"
)

func main() {
	baseURL := os.Getenv("CHAINGUARD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	address := "0x1111111111111111111111111111111111111111"
	if len(os.Args) > 1 {
		address = os.Args[1]
	}

	client, err := chainguard.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	assessment, err := client.Assess(ctx, address)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: %s (%.2f) %s\n", assessment.Address, assessment.RiskLevel, assessment.RiskScore, assessment.Justification)

	submitted, err := client.SubmitTask(ctx, chainguard.TaskSubmission{Agent: "blockchain_security_coordinator", Input: address})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", submitted.ID, submitted.Status)

	done, err := client.WaitForTask(ctx, submitted.ID, 500*time.Millisecond)
	if err != nil {
		log.Fatal(err)
	}
	if done.Result != nil {
		fmt.Printf("task %s %s: %s\n", done.ID, done.Status, done.Result.Summary)
		return
	}
	fmt.Printf("task %s %s: %s\n", done.ID, done.Status, done.LastError)
}
