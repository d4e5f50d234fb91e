package auction

import "marketplace/models"

// VisibleBids применяет правила закрытых ставок:
//   - пока приём открыт, специалист видит только свою ставку, владелец не видит ничего;
//   - после закрытия владелец видит все ставки, специалист по-прежнему свою;
//   - признак победителя появляется только после выбора победителя.
func VisibleBids(t *models.Tender, viewer models.Actor, bids []models.Bid) []models.Bid {
	visible := []models.Bid{}
	awarded := t.WinnerBidID.Valid
	for _, b := range bids {
		switch {
		case viewer.ID == t.ClientID:
			if !t.BidsLocked {
				continue
			}
		case viewer.Role == models.RolePro && b.ProID == viewer.ID:
		default:
			continue
		}
		if !awarded {
			b.IsWinner = false
		}
		visible = append(visible, b)
	}
	return visible
}
