package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
)

// Seed is the fixture format read by LoadSeed.  The store assigns its
// own ids; the ids in the file only link vehicles to drivers, spaces to
// lots and lots to clients.
type Seed struct {
	Clients  []model.Client       `json:"clients"`
	Lots     []model.ParkingLot   `json:"lots"`
	Spaces   []model.ParkingSpace `json:"spaces"`
	Drivers  []model.Driver       `json:"drivers"`
	Vehicles []model.Vehicle      `json:"vehicles"`
}

// LoadSeed decodes a Seed from r into the store.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("memory: decode seed: %w", err)
	}

	clients := map[uint64]uint64{}
	for _, c := range seed.Clients {
		clients[c.ID] = s.AddClient(c).ID
	}
	lots := map[uint64]uint64{}
	for _, l := range seed.Lots {
		if l.ClientID.Valid {
			id, ok := clients[uint64(l.ClientID.Int64)]
			if !ok {
				return fmt.Errorf("memory: lot %q refers to unknown client %d", l.Name, l.ClientID.Int64)
			}
			l.ClientID = null.IntFrom(int64(id))
		}
		lots[l.ID] = s.AddLot(l).ID
	}
	seen := map[string]bool{}
	for _, sp := range seed.Spaces {
		id, ok := lots[sp.LotID]
		if !ok {
			return fmt.Errorf("memory: space %s refers to unknown lot %d", sp.SpaceNumber, sp.LotID)
		}
		key := fmt.Sprintf("%d/%s", id, sp.SpaceNumber)
		if seen[key] {
			return fmt.Errorf("memory: duplicate space %s in lot %d", sp.SpaceNumber, sp.LotID)
		}
		seen[key] = true
		sp.LotID = id
		sp.IsOccupied = false
		s.AddSpace(sp)
	}
	drivers := map[uint64]uint64{}
	for _, d := range seed.Drivers {
		d.HeldBalance = decimal.Zero
		drivers[d.ID] = s.AddDriver(d).ID
	}
	for _, v := range seed.Vehicles {
		id, ok := drivers[v.UserID]
		if !ok {
			return fmt.Errorf("memory: vehicle %s refers to unknown driver %d", v.NumberPlate, v.UserID)
		}
		v.UserID = id
		s.AddVehicle(v)
	}
	return nil
}

// LoadSeedFile is LoadSeed on the named file.
func (s *Store) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory: open seed: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}
