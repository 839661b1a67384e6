package lifecycle

import (
	"fmt"

	"sitter-points-backend/pkg/models"
)

const whenLayout = "Jan 2, 2006 at 3:04 PM"

func when(post *models.Post) string {
	return post.DateTime.Format(whenLayout)
}

func pointsWord(n int) string {
	if n == 1 {
		return "1 point"
	}
	return fmt.Sprintf("%d points", n)
}

// verb picks the singular or plural form to follow pointsWord(n).
func verb(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func holdMessage(post *models.Post) string {
	n := post.HoursNeeded
	return fmt.Sprintf("%s %s on hold for your request on %s.", pointsWord(n), verb(n, "is", "are"), when(post))
}

func topUpMessage(post *models.Post, extra int) string {
	return fmt.Sprintf("%s more %s on hold for your updated request on %s.", pointsWord(extra), verb(extra, "is", "are"), when(post))
}

func releaseMessage(post *models.Post, released int) string {
	return fmt.Sprintf("%s %s returned after you updated your post for %s.", pointsWord(released), verb(released, "was", "were"), when(post))
}

func acceptMessage(post *models.Post, recipient string) string {
	mine := recipient == post.PostedBy
	switch {
	case post.Type == models.PostTypeOffer && mine:
		return fmt.Sprintf("Your offer for %s was accepted. You will receive %s once it is completed.", when(post), pointsWord(post.HoursNeeded))
	case post.Type == models.PostTypeOffer:
		n := post.HoursNeeded
		return fmt.Sprintf("You accepted an offer for %s. %s %s on hold until it is completed.", when(post), pointsWord(n), verb(n, "is", "are"))
	case mine:
		return fmt.Sprintf("Your request for %s was accepted.", when(post))
	default:
		return fmt.Sprintf("You accepted a request for %s. You will receive %s once it is completed.", when(post), pointsWord(post.HoursNeeded))
	}
}

func completeMessage(post *models.Post, recipient, performer string) string {
	if recipient == performer {
		return fmt.Sprintf("Babysitting on %s is complete. You received %s.", when(post), pointsWord(post.HoursNeeded))
	}
	n := post.HoursNeeded
	return fmt.Sprintf("Babysitting on %s is complete. %s %s paid.", when(post), pointsWord(n), verb(n, "was", "were"))
}

func cancelMessage(post *models.Post, recipient, refunded string) string {
	var msg string
	if recipient == post.PostedBy {
		msg = fmt.Sprintf("You cancelled your %s for %s.", post.Type, when(post))
	} else {
		msg = fmt.Sprintf("The %s you accepted for %s was cancelled.", post.Type, when(post))
	}
	if recipient == refunded {
		n := post.HoursNeeded
		msg += fmt.Sprintf(" %s %s refunded.", pointsWord(n), verb(n, "was", "were"))
	}
	return msg
}
