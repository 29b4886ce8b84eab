package dialog

import "fmt"

// Prompt keys.
const (
	promptLanguageSelect  = "language_select"
	promptWelcomeBack     = "welcome_back"
	promptAskName         = "ask_name"
	promptAskNameRetry    = "ask_name_retry"
	promptAskAge          = "ask_age"
	promptAskAgeRetry     = "ask_age_retry"
	promptAskAgeDigits    = "ask_age_digits"
	promptAskInterests    = "ask_interests"
	promptConfirmProfile  = "confirm_profile"
	promptOfferStory      = "offer_story"
	promptOfferUnlimited  = "offer_unlimited"
	promptStoryIntro      = "story_intro"
	promptGoodnight       = "goodnight"
	promptQuotaExceeded   = "quota_exceeded"
	promptUpgradeInfo     = "upgrade_info"
	promptNextMonth       = "next_month"
	promptDecline         = "decline"
	promptApology         = "apology"
	promptInvalidRetry    = "invalid_retry"
)

var prompts = map[string]map[string]string{
	"en": {
		promptLanguageSelect: "Hello! Hola! Welcome to StoryLine. For English, press 1. Para Espanol, marque 2.",
		promptWelcomeBack:    "Hi there! Is this a story for %s? Press 1 for yes, or press 2 for a different child.",
		promptAskName:        "Wonderful! What is your child's name? Please say it after the beep.",
		promptAskNameRetry:   "Sorry, I didn't catch that. Could you say your child's name again?",
		promptAskAge:         "Nice to meet %s! How old is %s? You can say the age, like 'five years old'.",
		promptAskAgeRetry:    "I didn't understand the age. Could you say how old your child is? Like 'five years old' or just 'seven'.",
		promptAskAgeDigits:   "Let's try the keypad instead. Please enter your child's age using the number keys.",
		promptAskInterests:   "Great! What does %s love? For example animals, magic, space, or dinosaurs.",
		promptConfirmProfile: "Perfect! %s is %d years old and loves %s. Press 1 to save this profile, or press 2 to start over.",
		promptOfferStory:     "%s, I found a story for you: %s. You have %d free stories left this month. Press 1 to begin, or press 2 to say goodnight.",
		promptOfferUnlimited: "%s, I found a story for you: %s. Press 1 to begin, or press 2 to say goodnight.",
		promptStoryIntro:     "Here we go. Snuggle up and close your eyes.",
		promptGoodnight:      "The end. Sweet dreams, %s! Call again tomorrow for another story. Goodnight!",
		promptQuotaExceeded:  "You've used your %d free stories this month. To hear unlimited stories, press 1 to learn about our plans, or press 2 to call again next month.",
		promptUpgradeInfo:    "Visit storyline dot ai or ask a grown-up to check our family plans. We can't wait to tell you more stories. Goodnight!",
		promptNextMonth:      "No problem! Your free stories come back at the start of next month. Goodnight!",
		promptDecline:        "Okay, no story tonight. Sweet dreams! Goodnight!",
		promptApology:        "I'm sorry, we're having trouble right now. Please try calling back in a few minutes. Goodnight!",
		promptInvalidRetry:   "Sorry, I didn't get that. %s",
	},
	"es": {
		promptLanguageSelect: "Hello! Hola! Welcome to StoryLine. For English, press 1. Para Espanol, marque 2.",
		promptWelcomeBack:    "Hola! Es un cuento para %s? Marque 1 para si, o marque 2 para otro nino.",
		promptAskName:        "Excelente! Como se llama su nino? Diga el nombre despues del tono.",
		promptAskNameRetry:   "Perdon, no entendi. Puede decir el nombre de su nino otra vez?",
		promptAskAge:         "Mucho gusto, %s! Cuantos anos tiene %s? Puede decir la edad, como 'cinco anos'.",
		promptAskAgeRetry:    "No entendi la edad. Puede decir cuantos anos tiene su nino? Como 'cinco anos' o solo 'siete'.",
		promptAskAgeDigits:   "Intentemos con el teclado. Marque la edad de su nino con los numeros.",
		promptAskInterests:   "Perfecto! Que le gusta a %s? Por ejemplo animales, magia, espacio o dinosaurios.",
		promptConfirmProfile: "Perfecto! %s tiene %d anos y le gusta %s. Marque 1 para guardar, o marque 2 para empezar de nuevo.",
		promptOfferStory:     "%s, tengo un cuento para ti: %s. Te quedan %d cuentos gratis este mes. Marca 1 para empezar, o marca 2 para despedirte.",
		promptOfferUnlimited: "%s, tengo un cuento para ti: %s. Marca 1 para empezar, o marca 2 para despedirte.",
		promptStoryIntro:     "Aqui vamos. Acurrucate y cierra los ojos.",
		promptGoodnight:      "Fin. Dulces suenos, %s! Llama manana para otro cuento. Buenas noches!",
		promptQuotaExceeded:  "Ya uso sus %d cuentos gratis este mes. Para cuentos ilimitados, marque 1 para conocer nuestros planes, o marque 2 para llamar el proximo mes.",
		promptUpgradeInfo:    "Visite storyline punto ai o pida a un adulto revisar nuestros planes familiares. Buenas noches!",
		promptNextMonth:      "No hay problema! Sus cuentos gratis vuelven al comienzo del proximo mes. Buenas noches!",
		promptDecline:        "Esta bien, sin cuento esta noche. Dulces suenos! Buenas noches!",
		promptApology:        "Lo siento, tenemos problemas en este momento. Por favor llame de nuevo en unos minutos. Buenas noches!",
		promptInvalidRetry:   "Perdon, no entendi. %s",
	},
}

// prompt renders a prompt in the given language, falling back to English
// for unknown languages.
func prompt(lang, key string, args ...any) string {
	table, ok := prompts[lang]
	if !ok {
		table = prompts["en"]
	}
	text, ok := table[key]
	if !ok {
		text = prompts["en"][key]
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// audioFor returns TTS rendering hints for a language.
func audioFor(lang string) AudioHints {
	if lang == "es" {
		return AudioHints{Voice: "alice", Rate: "slow", Language: "es-ES"}
	}
	return AudioHints{Voice: "alice", Rate: "slow", Language: "en-US"}
}
