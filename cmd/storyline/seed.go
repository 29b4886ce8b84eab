package main

import (
	"context"
	"log/slog"

	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/database/models"
)

// seedCatalog loads the bundled public domain stories on first start so a
// fresh install can serve stories before any are added through the admin API.
func seedCatalog(ctx context.Context, stories database.StoryRepository) {
	count, err := stories.Count(ctx)
	if err != nil {
		slog.Error("failed to count catalog stories", "error", err)
		return
	}
	if count > 0 {
		return
	}

	slog.Info("seeding story catalog", "count", len(seedStories))
	for i := range seedStories {
		st := seedStories[i]
		if err := stories.Create(ctx, &st); err != nil {
			slog.Error("failed to seed story", "title", st.Title, "error", err)
		}
	}
}

// Public domain seed stories, English and Spanish.
var seedStories = []models.Story{
	{
		Title: "The Three Little Pigs",
		Body: `Once upon a time, there were three little pigs who went out into the world to build their own homes.

The first little pig was lazy. He built his house out of straw because it was easy and quick. "This will do just fine," he said.

The second little pig worked a bit harder. He built his house out of sticks. "This is stronger than straw," he thought.

The third little pig was very hardworking. He built his house out of bricks, working all day long. "This will keep me safe," he said.

One day, a big bad wolf came along. He smelled the pigs and decided he wanted them for dinner.

First, he went to the straw house. "Little pig, little pig, let me come in!"

"Not by the hair of my chinny-chin-chin!" said the first pig.

"Then I'll huff and I'll puff and I'll blow your house in!" The wolf blew the straw house down, but the pig ran to his brother's stick house.

The wolf followed. "Little pigs, little pigs, let me come in!"

"Not by the hair of our chinny-chin-chins!"

"Then I'll huff and I'll puff and I'll blow your house in!" The wolf blew the stick house down too, but both pigs ran to their brother's brick house.

The wolf tried to blow down the brick house, but he couldn't. He huffed and puffed until he was tired.

The three little pigs were safe in the strong brick house. They learned that hard work and planning ahead keep you safe. And they all lived happily ever after.`,
		AgeMin:      3,
		AgeMax:      7,
		Themes:      []string{"animals", "hard work", "safety"},
		Language:    "en",
		DurationMin: 5,
		Source:      models.StorySourceCatalog,
	},
	{
		Title: "Los Tres Cerditos",
		Body: `Habia una vez tres cerditos que salieron al mundo para construir sus propias casas.

El primer cerdito era perezoso. Construyo su casa de paja porque era facil y rapido. "Esto estara bien," dijo.

El segundo cerdito trabajo un poco mas duro. Construyo su casa de palos. "Esto es mas fuerte que la paja," penso.

El tercer cerdito era muy trabajador. Construyo su casa de ladrillos, trabajando todo el dia. "Esto me mantendra seguro," dijo.

Un dia, llego un lobo feroz. Olio a los cerditos y decidio que los queria para la cena.

Primero, fue a la casa de paja. "Cerdito, cerdito, dejame entrar!"

"No, por los pelos de mi barbilla!" dijo el primer cerdito.

"Entonces soplare y resoplare y tu casa derribare!" El lobo derribo la casa de paja, pero el cerdito corrio a la casa de palos de su hermano.

El lobo lo siguio. "Cerditos, cerditos, dejenme entrar!"

"No, por los pelos de nuestras barbillas!"

"Entonces soplare y resoplare y su casa derribare!" El lobo tambien derribo la casa de palos, pero ambos cerditos corrieron a la casa de ladrillos de su hermano.

El lobo trato de derribar la casa de ladrillos, pero no pudo. Soplo y resoplo hasta que se canso.

Los tres cerditos estaban seguros en la casa fuerte de ladrillos. Aprendieron que el trabajo duro y la planificacion los mantienen seguros. Y vivieron felices para siempre.`,
		AgeMin:      3,
		AgeMax:      7,
		Themes:      []string{"animals", "hard work", "safety"},
		Language:    "es",
		DurationMin: 5,
		Source:      models.StorySourceCatalog,
	},
	{
		Title: "The Tortoise and the Hare",
		Body: `Once upon a time, there was a speedy hare who bragged about how fast he could run. Tired of hearing him boast, a tortoise challenged him to a race.

All the animals in the forest gathered to watch. The hare laughed at the tortoise. "This will be the easiest race I've ever won," he said.

The race began and the hare darted almost out of sight at once. Soon he was far ahead of the tortoise.

"This is too easy," thought the hare. "I have plenty of time." He decided to take a nap under a shady tree.

Meanwhile, the tortoise kept walking slowly but steadily. Step by step, he moved forward without stopping. He passed the sleeping hare and continued toward the finish line.

The hare woke up and realized the tortoise was almost at the finish line! He ran as fast as he could, but it was too late. The tortoise had won the race!

All the animals cheered for the tortoise. The hare learned an important lesson that day: "Slow and steady wins the race." Hard work and determination are more important than just being fast.`,
		AgeMin:      4,
		AgeMax:      8,
		Themes:      []string{"animals", "perseverance"},
		Language:    "en",
		DurationMin: 4,
		Source:      models.StorySourceCatalog,
	},
	{
		Title: "La Tortuga y la Liebre",
		Body: `Habia una vez una liebre muy rapida que se jactaba de lo rapido que podia correr. Cansada de escucharla presumir, una tortuga la desafio a una carrera.

Todos los animales del bosque se reunieron para ver. La liebre se rio de la tortuga. "Esta sera la carrera mas facil que haya ganado," dijo.

La carrera comenzo y la liebre salio disparada casi fuera de vista. Pronto estaba muy por delante de la tortuga.

"Esto es muy facil," penso la liebre. "Tengo mucho tiempo." Decidio tomar una siesta bajo un arbol con sombra.

Mientras tanto, la tortuga siguio caminando lenta pero constantemente. Paso a paso, se movia hacia adelante sin parar. Paso a la liebre dormida y continuo hacia la linea de meta.

La liebre se desperto y se dio cuenta de que la tortuga estaba casi en la linea de meta! Corrio tan rapido como pudo, pero era demasiado tarde. La tortuga habia ganado la carrera!

Todos los animales vitorearon a la tortuga. La liebre aprendio una leccion importante ese dia: "Lento y constante gana la carrera." El trabajo duro y la determinacion son mas importantes que ser rapido.`,
		AgeMin:      4,
		AgeMax:      8,
		Themes:      []string{"animals", "perseverance"},
		Language:    "es",
		DurationMin: 4,
		Source:      models.StorySourceCatalog,
	},
}
