// Synthetic feed for local development: four buses orbit downtown Denver
// while a fifth keeps republishing a five-minute-old position, which the
// detector should flag as a ghost within a few updates.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type busUpdate struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	RouteID   string  `json:"route_id"`
	Speed     float64 `json:"speed"`
	Timestamp float64 `json:"timestamp"`
	Bearing   float64 `json:"bearing"`
}

var fleet = []struct {
	id      string
	routeID string
	lat     float64
	lon     float64
	ghost   bool
}{
	{id: "WEST_001", routeID: "WEST", lat: 39.7392, lon: -104.9903},
	{id: "SOUT_002", routeID: "SOUT", lat: 39.7392, lon: -104.9903},
	{id: "NRTH_003", routeID: "NRTH", lat: 39.7392, lon: -104.9903},
	{id: "PEGA_004", routeID: "PEGA", lat: 39.7392, lon: -104.9903},
	{id: "GHOST_005", routeID: "WEST", lat: 39.7392, lon: -104.9903, ghost: true},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	baseURL := getEnv("SIM_TARGET", "http://localhost:8000")
	apiKey := getEnv("SIM_API_KEY", "dev-key")
	interval := 10 * time.Second

	fmt.Printf("Posting simulated updates to %s every %s\n", baseURL, interval)

	for tick := 0; ; tick++ {
		now := float64(time.Now().UnixNano()) / float64(time.Second)

		for i, bus := range fleet {
			var update busUpdate
			if bus.ghost {
				// Stale, stationary, zero speed: everything the detector hates.
				update = busUpdate{
					ID:        bus.id,
					Lat:       bus.lat,
					Lon:       bus.lon,
					RouteID:   bus.routeID,
					Speed:     0,
					Timestamp: now - 300,
					Bearing:   0,
				}
			} else {
				phase := now/60 + float64(i)
				update = busUpdate{
					ID:        bus.id,
					Lat:       bus.lat + math.Sin(phase)*0.01,
					Lon:       bus.lon + math.Cos(phase)*0.01,
					RouteID:   bus.routeID,
					Speed:     20 + rand.Float64()*40,
					Timestamp: now,
					Bearing:   rand.Float64() * 360,
				}
			}

			if err := post(baseURL, apiKey, update); err != nil {
				log.Printf("post %s failed: %v", bus.id, err)
			}
		}

		fmt.Printf("tick %d: posted %d updates\n", tick, len(fleet))
		time.Sleep(interval)
	}
}

func post(baseURL, apiKey string, update busUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/buses/%s/update", baseURL, update.ID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
