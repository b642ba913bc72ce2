//go:build ignore
// +build ignore

// Inbound results load generator.
//
// Pumps synthetic analytics results onto the inbound queue so the ingest
// path can be exercised end to end without the ML service. Messages carry
// the same attributes the real producer sets, and payloads rotate through
// the shape variants the normalizer tolerates, from label sentiments to
// structured action items.
//
// Usage:
//
//	go run scripts/results_loadtest.go \
//	  --queue="https://sqs.eu-west-1.amazonaws.com/123456789012/ml-results" \
//	  --count=5000 \
//	  --workers=8 \
//	  --destination=CALL
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type loadConfig struct {
	QueueURL    string
	Region      string
	Count       int
	Workers     int
	Destination string
	Prefix      string
}

var classificationPool = []string{
	"billing", "tech_support", "retention", "network_quality",
	"collections", "sales", "general_inquiry",
}

var summaryPool = []string{
	"הלקוח התקשר בנוגע לחיוב כפול בחשבונית וקיבל זיכוי",
	"תקלת אינטרנט חוזרת, נפתחה תקלה למוקד הטכני",
	"הלקוח ביקש לבטל חבילת ספורט, בוצע שימור עם הנחה",
	"בירור על החזר כספי שטרם התקבל, הועבר לגבייה",
	"שדרוג מסלול סיבים הושלם במהלך השיחה",
}

var productPool = []string{"FTTH", "MOBILE_POST", "FIBER_100", "TV_PACK", "ROAMING"}

var actionPool = []string{
	"callback scheduled", "credit issued", "technician dispatched",
	"retention offer", "escalated to tier 2",
}

var sentimentLabels = []string{"positive", "negative", "neutral", "חיובי", "שלילי"}

func main() {
	var cfg loadConfig
	flag.StringVar(&cfg.QueueURL, "queue", "", "Inbound results queue URL (required)")
	flag.StringVar(&cfg.Region, "region", "eu-west-1", "AWS region")
	flag.IntVar(&cfg.Count, "count", 1000, "Number of results to send")
	flag.IntVar(&cfg.Workers, "workers", 8, "Concurrent senders")
	flag.StringVar(&cfg.Destination, "destination", "CALL", "Destination type stamped on every message (CALL or WAPP)")
	flag.StringVar(&cfg.Prefix, "prefix", "LOAD", "Call id prefix")
	flag.Parse()

	if cfg.QueueURL == "" {
		log.Fatal("--queue is required")
	}
	if cfg.Destination != "CALL" && cfg.Destination != "WAPP" {
		log.Fatalf("--destination must be CALL or WAPP, got %q", cfg.Destination)
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("                   INBOUND RESULTS LOAD GENERATOR")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Queue:       %s\n", cfg.QueueURL)
	fmt.Printf("Messages:    %d (%s, %d workers)\n", cfg.Count, cfg.Destination, cfg.Workers)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Interrupt received, stopping...")
		cancel()
	}()

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	client := sqs.NewFromConfig(awsCfg)

	// Tagged ids keep repeated runs distinguishable in the destination tables.
	runTag := time.Now().Format("150405")

	var sent, failed int64
	var mu sync.Mutex
	var latencies []time.Duration

	batches := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for first := range batches {
				n := cfg.Count - first
				if n > 10 {
					n = 10
				}
				entries := make([]types.SendMessageBatchRequestEntry, 0, n)
				for i := 0; i < n; i++ {
					id := fmt.Sprintf("%s%s-%06d", cfg.Prefix, runTag, first+i+1)
					body, err := json.Marshal(buildResult(rng, id, cfg.Destination))
					if err != nil {
						log.Fatalf("Failed to marshal result: %v", err)
					}
					entries = append(entries, types.SendMessageBatchRequestEntry{
						Id:          aws.String(strconv.Itoa(i)),
						MessageBody: aws.String(string(body)),
						MessageAttributes: map[string]types.MessageAttributeValue{
							"messageType":     {DataType: aws.String("String"), StringValue: aws.String("ML_PROCESSING_RESULT")},
							"destinationType": {DataType: aws.String("String"), StringValue: aws.String(cfg.Destination)},
						},
					})
				}

				t0 := time.Now()
				out, err := client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
					QueueUrl: aws.String(cfg.QueueURL),
					Entries:  entries,
				})
				if err != nil {
					atomic.AddInt64(&failed, int64(len(entries)))
					log.Printf("Batch at %d failed: %v", first, err)
					continue
				}
				atomic.AddInt64(&sent, int64(len(out.Successful)))
				atomic.AddInt64(&failed, int64(len(out.Failed)))
				mu.Lock()
				latencies = append(latencies, time.Since(t0))
				mu.Unlock()
			}
		}(time.Now().UnixNano() + int64(w))
	}

	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(5 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				s := atomic.LoadInt64(&sent)
				log.Printf("  progress: sent=%d failed=%d (%.0f msg/sec)",
					s, atomic.LoadInt64(&failed), float64(s)/time.Since(start).Seconds())
			}
		}
	}()

feed:
	for first := 0; first < cfg.Count; first += 10 {
		select {
		case <-ctx.Done():
			break feed
		case batches <- first:
		}
	}
	close(batches)
	wg.Wait()
	close(done)
	elapsed := time.Since(start)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	totalSent := atomic.LoadInt64(&sent)
	totalFailed := atomic.LoadInt64(&failed)

	fmt.Println()
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("                   RESULTS")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Sent:        %d\n", totalSent)
	fmt.Printf("Failed:      %d\n", totalFailed)
	fmt.Printf("Elapsed:     %v\n", elapsed.Round(time.Millisecond))
	if totalSent > 0 && elapsed > 0 {
		fmt.Printf("Throughput:  %.1f msg/sec\n", float64(totalSent)/elapsed.Seconds())
	}
	if len(latencies) > 0 {
		fmt.Printf("Batch P50:   %v\n", percentile(latencies, 50))
		fmt.Printf("Batch P99:   %v\n", percentile(latencies, 99))
	}

	if totalFailed > 0 {
		os.Exit(1)
	}
}

// buildResult fabricates one analytics document. Field shapes vary between
// calls the way the real producer's have been seen to.
func buildResult(rng *rand.Rand, id, destination string) map[string]interface{} {
	primary := classificationPool[rng.Intn(len(classificationPool))]
	all := []string{primary}
	if rng.Intn(2) == 0 {
		all = append(all, classificationPool[rng.Intn(len(classificationPool))])
	}

	doc := map[string]interface{}{
		"type":                  "ML_PROCESSING_RESULT",
		"callId":                id,
		"destinationType":       destination,
		"ban":                   fmt.Sprintf("9%08d", rng.Intn(100000000)),
		"subscriberNo":          fmt.Sprintf("S%08d", rng.Intn(100000000)),
		"callTime":              time.Now().Add(-time.Duration(rng.Intn(120)) * time.Minute).Format(time.RFC3339),
		"summary":               summaryPool[rng.Intn(len(summaryPool))],
		"classification":        primary,
		"classifications":       all,
		"confidence":            0.5 + rng.Float64()*0.49,
		"processingTime":        500 + rng.Intn(4500),
		"modelVersion":          "dictalm-2.0",
		"products":              []string{productPool[rng.Intn(len(productPool))]},
		"customer_satisfaction": 1 + rng.Intn(5),
	}

	switch rng.Intn(3) {
	case 0:
		doc["sentiment"] = 1 + rng.Intn(5)
	case 1:
		doc["sentiment"] = sentimentLabels[rng.Intn(len(sentimentLabels))]
	default:
		doc["sentiment"] = map[string]interface{}{"overall": 1 + rng.Intn(5)}
	}

	switch rng.Intn(3) {
	case 0:
		doc["churn_confidence"] = rng.Float64()
	case 1:
		doc["churn_confidence"] = rng.Intn(101)
	default:
		doc["churn_confidence"] = fmt.Sprintf("%.2f", rng.Float64())
	}

	if rng.Intn(2) == 0 {
		doc["action_items"] = actionPool[rng.Intn(len(actionPool))] + ", " + actionPool[rng.Intn(len(actionPool))]
	} else {
		doc["action_items"] = []map[string]interface{}{{"action": actionPool[rng.Intn(len(actionPool))]}}
	}

	return doc
}

// percentile expects a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
