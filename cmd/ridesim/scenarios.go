package main

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/participant"
	"github.com/example/ride-lifecycle/internal/registry"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/task"
)

type scenario struct {
	title string
	run   func(ctx context.Context, reg *registry.Registry, step time.Duration) error
}

var scenarios = map[int]scenario{
	1: {"basic ride request and completion", basicRide},
	2: {"premium user and ratings", premiumAndRatings},
	3: {"VIP driver filtering", vipFiltering},
	4: {"automatic driver matching", autoMatch},
	5: {"concurrent requests and full lifecycle", complexScenario},
}

func place(name string) models.Location { return models.Location{Name: name} }

func basicRide(ctx context.Context, reg *registry.Registry, _ time.Duration) error {
	alice := reg.NewUser("Alice", "Visa", nil)
	bob := reg.NewDriver("Bob", "Tesla Model 3", nil)
	r, err := reg.RequestRide(ctx, alice, place("Main St"), place("Elm St"), bob).Wait(ctx)
	if err != nil {
		return err
	}
	if err := bob.AcceptRide(r); err != nil {
		return err
	}
	reg.Notify(r)
	if err := r.Start(); err != nil {
		return err
	}
	if err := r.Complete(); err != nil {
		return err
	}
	reg.Notify(r)
	return nil
}

// premiumAndRatings requests without naming a driver and lets one accept
// by hand, so no matching happens.
func premiumAndRatings(ctx context.Context, reg *registry.Registry, _ time.Duration) error {
	charlie := reg.NewUser("Charlie", "Mastercard", &participant.PremiumPolicy{Benefits: "VIP Benefits"})
	dave := reg.NewDriver("Dave", "BMW i8", nil)
	r, err := reg.OpenRide(charlie, place("Park Ave"), place("Madison Ave"))
	if err != nil {
		return err
	}
	if err := dave.AcceptRide(r); err != nil {
		return err
	}
	if _, err := charlie.RateDriver(dave, 5, "Excellent service!"); err != nil {
		return err
	}
	if _, err := dave.RateUser(charlie, 4, "Pleasant customer"); err != nil {
		return err
	}
	printAverage(dave.Name(), dave.AverageRating)
	return pay(ctx, reg, charlie, r, 10)
}

func vipFiltering(ctx context.Context, reg *registry.Registry, _ time.Duration) error {
	eve := reg.NewDriver("Eve", "Porsche 911", &participant.VIPPolicy{Active: true})
	frank := reg.NewUser("Frank", "Visa", nil)
	reg.NewUser("Grace", "Amex", &participant.PremiumPolicy{Benefits: "Premium"})

	first, err := reg.RequestRide(ctx, frank, place("5th Ave"), place("Broadway"), eve).Wait(ctx)
	if err != nil {
		return err
	}
	if err := eve.AcceptRide(first); err != nil {
		return err
	}
	if _, err := eve.RateUser(frank, 3, "Average experience"); err != nil {
		return err
	}
	second, err := reg.RequestRide(ctx, frank, place("Times Square"), place("Central Park"), eve).Wait(ctx)
	if err != nil {
		return err
	}
	if err := eve.AcceptRide(second); err != nil {
		fmt.Printf("second ride refused: %v\n", err)
	}
	return nil
}

func autoMatch(ctx context.Context, reg *registry.Registry, _ time.Duration) error {
	helen := reg.NewDriver("Helen", "Toyota Prius", nil)
	ian := reg.NewDriver("Ian", "Honda Civic", nil)
	helen.UpdateLocation(1, 1)
	ian.UpdateLocation(0.1, 0.1)
	jack := reg.NewUser("Jack", "Visa", nil)

	fmt.Printf("Available drivers before matching: %d\n", len(reg.AvailableDrivers()))
	r, err := reg.RequestRide(ctx, jack, models.Location{Name: "Origin"}, place("Destination"), nil).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Matched %s with %s\n", jack.Name(), r.Driver().Name())
	fmt.Printf("Available drivers after matching: %d\n", len(reg.AvailableDrivers()))
	return nil
}

func complexScenario(ctx context.Context, reg *registry.Registry, step time.Duration) error {
	karen := reg.NewUser("Karen", "Visa", nil)
	larry := reg.NewUser("Larry", "Mastercard", &participant.PremiumPolicy{Benefits: "Premium"})
	mike := reg.NewDriver("Mike", "Honda Accord", nil)
	nancy := reg.NewDriver("Nancy", "Mercedes S-Class", &participant.VIPPolicy{Active: true})
	mike.UpdateLocation(0.5, 0.5)
	nancy.UpdateLocation(1, 1)

	fmt.Println("Testing concurrent ride requests...")
	matched := reg.RequestRide(ctx, karen, place("Origin"), place("Downtown"), nil)
	premium := task.Go(ctx, func(context.Context) (*ride.Ride, error) {
		return reg.OpenRide(larry, place("Airport"), place("Hotel"))
	})
	if _, err := matched.Wait(ctx); err != nil {
		fmt.Printf("auto-match for %s failed: %v\n", karen.Name(), err)
	}
	if _, err := premium.Wait(ctx); err != nil {
		return err
	}

	r, err := reg.RequestRide(ctx, larry, place("Hotel"), place("Restaurant"), nancy).Wait(ctx)
	if err != nil {
		return err
	}
	if err := nancy.AcceptRide(r); err != nil {
		return err
	}
	for _, s := range []models.Status{models.StatusDriverAssigned, models.StatusArrivingSoon, models.StatusArrived} {
		if err := task.Sleep(ctx, step); err != nil {
			return err
		}
		if err := r.UpdateStatus(s); err != nil {
			return err
		}
	}
	if err := r.Start(); err != nil {
		return err
	}
	return pay(ctx, reg, larry, r, 20)
}

// pay settles r and reports the outcome. A declined payment is part of the
// simulation, not a scenario failure.
func pay(ctx context.Context, reg *registry.Registry, u *participant.User, r *ride.Ride, tip float64) error {
	s := r.Snapshot()
	fmt.Printf("Processing payment for ride from %s to %s [%s]\n", s.Pickup.Name, s.Dropoff.Name, u.Name())
	tk, err := reg.Pay(ctx, u, r, tip)
	if err != nil {
		return err
	}
	if _, err := tk.Wait(ctx); err != nil {
		fmt.Printf("Payment failed: %v\n", err)
		return nil
	}
	fmt.Println("Payment successful!")
	return nil
}

func printAverage(name string, avg func() (float64, bool)) {
	if v, ok := avg(); ok {
		fmt.Printf("Average rating of %s is %.2f\n", name, v)
		return
	}
	fmt.Printf("%s doesn't have a rating yet\n", name)
}
